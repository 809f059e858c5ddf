package deficit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

const (
	DefaultManagerPIN = "0000"
	DefaultGraceDays  = 5
)

// Settings is the persisted engine configuration. The PIN is only ever held
// as a bcrypt hash.
type Settings struct {
	ManagerPINHash   string          `json:"managerPinHash"`
	DueDateGraceDays int             `json:"dueDateGraceDays"`
	MonthlySalary    decimal.Decimal `json:"monthlySalary"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// SettingsView is what callers may see of the settings.
type SettingsView struct {
	DueDateGraceDays int             `json:"dueDateGraceDays"`
	MonthlySalary    decimal.Decimal `json:"monthlySalary"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (s Settings) View() SettingsView {
	return SettingsView{DueDateGraceDays: s.DueDateGraceDays, MonthlySalary: s.MonthlySalary, UpdatedAt: s.UpdatedAt}
}

// SettingsSeed initialises the settings the first time an engine opens a
// store. Once persisted, the stored settings win.
type SettingsSeed struct {
	ManagerPIN       string
	DueDateGraceDays int
	MonthlySalary    decimal.Decimal

	// BcryptCost defaults to bcrypt.DefaultCost. Tests use bcrypt.MinCost.
	BcryptCost int
}

func DefaultSeed() SettingsSeed {
	return SettingsSeed{
		ManagerPIN:       DefaultManagerPIN,
		DueDateGraceDays: DefaultGraceDays,
		MonthlySalary:    decimal.Zero,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// SettingsUpdate changes the fields that are set.
type SettingsUpdate struct {
	NewPIN           *string          `json:"newPin" validate:"omitempty,number,min=4,max=8"`
	DueDateGraceDays *int             `json:"dueDateGraceDays" validate:"omitempty,min=0,max=365"`
	MonthlySalary    *decimal.Decimal `json:"monthlySalary"`
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

type settingsStore struct {
	mu      sync.RWMutex
	current Settings

	kv   generic.Store
	cost int
	log  logrus.FieldLogger
	now  func() time.Time
}

// loadSettings reads the persisted settings, seeding and saving them when
// none exist or the stored copy is unreadable.
func loadSettings(ctx context.Context, kv generic.Store, seed SettingsSeed, log logrus.FieldLogger, now func() time.Time) (*settingsStore, error) {
	if seed.BcryptCost == 0 {
		seed.BcryptCost = bcrypt.DefaultCost
	}
	if seed.ManagerPIN == "" {
		seed.ManagerPIN = DefaultManagerPIN
	}
	if seed.DueDateGraceDays < 0 {
		return nil, invalid("dueDateGraceDays", "must not be negative")
	}

	s := &settingsStore{kv: kv, cost: seed.BcryptCost, log: log.WithField("module", "settings"), now: now}

	data, ok, err := kv.Get(ctx, generic.KeySettings)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if ok {
		err := json.Unmarshal(data, &s.current)
		if err == nil && s.current.ManagerPINHash != "" {
			return s, nil
		}
		metrics.LoadFallbacks.Inc()
		s.log.WithField("error", err).Warn("stored settings are unreadable, reseeding")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seed.ManagerPIN), seed.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash manager pin: %w", err)
	}
	s.current = Settings{
		ManagerPINHash:   string(hash),
		DueDateGraceDays: seed.DueDateGraceDays,
		MonthlySalary:    generic.Cents(seed.MonthlySalary),
		UpdatedAt:        now(),
	}
	if err := s.save(ctx, s.current); err != nil {
		return nil, err
	}
	s.log.WithField("grace_days", seed.DueDateGraceDays).Info("settings seeded")
	return s, nil
}

func (s *settingsStore) get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// apply validates and persists an update. A failed save leaves the current
// settings in place and is returned.
func (s *settingsStore) apply(ctx context.Context, v *validator.Validate, u SettingsUpdate) (Settings, error) {
	if err := v.Struct(u); err != nil {
		return Settings{}, validationError(err)
	}
	if u.NewPIN != nil && *u.NewPIN == "" {
		return Settings{}, invalid("newPin", "required")
	}
	if u.MonthlySalary != nil && u.MonthlySalary.IsNegative() {
		return Settings{}, invalid("monthlySalary", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if u.NewPIN != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*u.NewPIN), s.cost)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to hash manager pin: %w", err)
		}
		next.ManagerPINHash = string(hash)
	}
	if u.DueDateGraceDays != nil {
		next.DueDateGraceDays = *u.DueDateGraceDays
	}
	if u.MonthlySalary != nil {
		next.MonthlySalary = generic.Cents(*u.MonthlySalary)
	}
	next.UpdatedAt = s.now()

	if err := s.save(ctx, next); err != nil {
		return Settings{}, err
	}
	s.current = next
	return next, nil
}

func (s *settingsStore) save(ctx context.Context, st Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.kv.Put(ctx, generic.KeySettings, data); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

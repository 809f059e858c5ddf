package deficit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/generic"
)

// DefaultSinkTimeout bounds one DocumentSink call. Print makes two, and a
// shared Guard must hold its lock for longer than both together.
const DefaultSinkTimeout = 10 * time.Second

// Options configures an Engine. Zero values are usable: no sink (printing
// fails with a SinkError), a LocalGuard, a discarding logger, time.Now,
// DefaultSinkTimeout and DefaultSeed.
type Options struct {
	Sink        DocumentSink
	SinkTimeout time.Duration
	Guard       Guard
	Logger      logrus.FieldLogger
	Now         func() time.Time
	Seed        *SettingsSeed
}

// Engine is the entry point for every deficit operation. It is safe for
// concurrent use.
type Engine struct {
	repo     *Repository
	settings *settingsStore
	gate     *Gate
	guard    Guard
	sink     DocumentSink
	sinkTTL  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// New loads settings and records from kv.
func New(ctx context.Context, kv generic.Store, opts Options) (*Engine, error) {
	if kv == nil {
		return nil, generic.ErrStoreRequired
	}
	if opts.Logger == nil {
		opts.Logger = config.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Guard == nil {
		opts.Guard = NewLocalGuard()
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	seed := DefaultSeed()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	settings, err := loadSettings(ctx, kv, seed, opts.Logger, opts.Now)
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(ctx, kv, settings, opts.Logger, opts.Now)
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:     repo,
		settings: settings,
		gate:     newGate(settings, opts.Logger),
		guard:    opts.Guard,
		sink:     opts.Sink,
		sinkTTL:  opts.SinkTimeout,
		log:      opts.Logger.WithField("module", "engine"),
		now:      opts.Now,
	}, nil
}

// Gate verifies the manager PIN.
func (e *Engine) Gate() *Gate { return e.gate }

// Today is the engine's current calendar date.
func (e *Engine) Today() generic.TimePoint { return generic.DateOf(e.now()) }

// =============================================================================
// RECORDS
// =============================================================================

func (e *Engine) Create(ctx context.Context, d Draft) (Record, error) {
	return e.repo.Create(ctx, d)
}

func (e *Engine) Update(ctx context.Context, id generic.RecordID, p Patch) (Record, error) {
	return e.repo.Update(ctx, id, p)
}

// Delete removes a record. A record in the middle of a settlement action is
// busy.
func (e *Engine) Delete(ctx context.Context, id generic.RecordID) error {
	release, err := e.guard.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return e.repo.Delete(ctx, id)
}

func (e *Engine) Get(ctx context.Context, id generic.RecordID) (Record, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, f Filter) ([]Record, error) {
	return e.repo.List(ctx, f)
}

// =============================================================================
// SETTINGS
// =============================================================================

func (e *Engine) Settings() SettingsView { return e.settings.get().View() }

// ChangeSettings requires the current manager PIN. A new grace period only
// applies to records created afterwards.
func (e *Engine) ChangeSettings(ctx context.Context, pin string, u SettingsUpdate) (SettingsView, error) {
	if err := e.gate.Verify(ctx, pin); err != nil {
		return SettingsView{}, err
	}
	st, err := e.settings.apply(ctx, e.repo.validate, u)
	if err != nil {
		return SettingsView{}, err
	}
	e.log.WithFields(logrus.Fields{
		"pin_changed": u.NewPIN != nil,
		"grace_days":  st.DueDateGraceDays,
	}).Info("settings changed")
	return st.View(), nil
}

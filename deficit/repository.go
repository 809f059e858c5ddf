package deficit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// errUnchanged tells commitLocked to drop a scratch copy nothing touched.
var errUnchanged = errors.New("record unchanged")

// collectionVersion is written with every persisted collection.
const collectionVersion = 1

// collection is the persisted document under generic.KeyRecords.
type collection struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is the in-memory arena of records. Every write goes through
// commit, which normalises derived fields, checks invariants, stores a deep
// copy and persists the whole collection.
type Repository struct {
	mu      sync.RWMutex
	records map[generic.RecordID]*Record

	kv       generic.Store
	settings *settingsStore
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time
}

func openRepository(ctx context.Context, kv generic.Store, settings *settingsStore, log logrus.FieldLogger, now func() time.Time) (*Repository, error) {
	r := &Repository{
		records:  make(map[generic.RecordID]*Record),
		kv:       kv,
		settings: settings,
		validate: newValidator(),
		log:      log.WithField("module", "repository"),
		now:      now,
	}
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	r.updateGauges()
	r.mu.RUnlock()
	return r, nil
}

// load reads the collection. An absent key or an unreadable payload yields
// an empty collection; only a failing store is an error.
func (r *Repository) load(ctx context.Context) error {
	data, ok, err := r.kv.Get(ctx, generic.KeyRecords)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	if !ok {
		return nil
	}

	records, err := decodeCollection(data)
	if err != nil {
		metrics.LoadFallbacks.Inc()
		r.log.WithError(err).Warn("stored records are unreadable, starting from an empty collection")
		return nil
	}

	for i := range records {
		rec := records[i].Clone()
		if rec.Payments == nil {
			rec.Payments = []Payment{}
		}
		normalize(&rec, r.now())
		if err := checkInvariants(nil, &rec); err != nil {
			r.log.WithField("record_id", rec.ID).WithError(err).Warn("loaded record breaks an invariant")
		}
		r.records[rec.ID] = &rec
	}
	r.log.WithField("count", len(r.records)).Info("records loaded")
	return nil
}

// decodeCollection accepts the versioned document and the bare array older
// builds wrote.
func decodeCollection(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var doc collection
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if doc.Version > collectionVersion {
		return nil, fmt.Errorf("unsupported collection version %d", doc.Version)
	}
	return doc.Records, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (r *Repository) Get(_ context.Context, id generic.RecordID) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, &generic.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// List returns matching records ordered by shift date, then creation time.
func (r *Repository) List(_ context.Context, f Filter) ([]Record, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", "unknown status "+string(f.Status))
	}

	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if f.matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Create validates the draft and inserts a new pending record.
func (r *Repository) Create(ctx context.Context, d Draft) (Record, error) {
	if err := r.validateDraft(d); err != nil {
		return Record{}, err
	}

	now := r.now()
	grace := r.settings.get().DueDateGraceDays
	rec := Record{
		ID:             generic.RecordID(uuid.NewString()),
		Date:           d.Date,
		DueDate:        d.Date.AddDays(grace),
		Shift:          d.Shift,
		TotalSales:     generic.Cents(d.TotalSales),
		MoneyGiven:     generic.Cents(d.MoneyGiven),
		Payments:       []Payment{},
		Status:         StatusPending,
		OriginalStatus: StatusPending,
		Receipt:        Receipt{Stage: StageIdle},
		Notes:          d.Notes,
		EmployeeID:     d.EmployeeID,
		TillNumber:     d.TillNumber,
		ManagerName:    d.ManagerName,
		WitnessName:    d.WitnessName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	normalize(&rec, now)
	if err := checkInvariants(nil, &rec); err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = &rec
	r.persist(ctx)
	r.updateGauges()

	r.log.WithFields(logrus.Fields{
		"record_id":    rec.ID,
		"employee_id":  rec.EmployeeID,
		"short_amount": rec.ShortAmount.StringFixed(generic.MoneyPlaces),
	}).Info("deficit recorded")
	return rec.Clone(), nil
}

// Update applies a metadata patch.
func (r *Repository) Update(ctx context.Context, id generic.RecordID, p Patch) (Record, error) {
	if err := r.validate.Struct(p); err != nil {
		return Record{}, validationError(err)
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		return Record{}, invalid("dueDate", "missing due date")
	}

	return r.mutate(ctx, id, func(rec *Record) error {
		if p.Notes != nil {
			rec.Notes = *p.Notes
		}
		if p.EmployeeID != nil {
			rec.EmployeeID = *p.EmployeeID
		}
		if p.TillNumber != nil {
			rec.TillNumber = *p.TillNumber
		}
		if p.ManagerName != nil {
			rec.ManagerName = *p.ManagerName
		}
		if p.WitnessName != nil {
			rec.WitnessName = *p.WitnessName
		}
		if p.DueDate != nil {
			rec.DueDate = *p.DueDate
		}
		return nil
	})
}

// Delete removes a record for good.
func (r *Repository) Delete(ctx context.Context, id generic.RecordID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return &generic.NotFoundError{ID: id}
	}
	delete(r.records, id)
	r.persist(ctx)
	r.updateGauges()
	r.log.WithField("record_id", id).Info("deficit deleted")
	return nil
}

// mutate is the single commit point. fn works on a scratch copy; the stored
// record is replaced only if fn succeeds and the result passes every
// invariant.
func (r *Repository) mutate(ctx context.Context, id generic.RecordID, fn func(*Record) error) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[id]
	if !ok {
		return Record{}, &generic.NotFoundError{ID: id}
	}

	next, err := r.commitLocked(current, fn)
	if err != nil {
		return Record{}, err
	}
	r.persist(ctx)
	r.updateGauges()
	return next.Clone(), nil
}

// mutateAll runs fn over every record and persists once. fn reports whether
// it changed the record; unchanged records are not re-committed. A record
// whose change breaks an invariant is left as stored and counted in skipped,
// and the pass carries on with the rest.
func (r *Repository) mutateAll(ctx context.Context, fn func(*Record) bool) (examined, changed, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, current := range r.records {
		examined++
		touched := false
		_, err := r.commitLocked(current, func(rec *Record) error {
			if touched = fn(rec); !touched {
				return errUnchanged
			}
			return nil
		})
		switch {
		case !touched:
		case err != nil:
			skipped++
		default:
			changed++
		}
	}
	if changed > 0 {
		r.persist(ctx)
		r.updateGauges()
	}
	return examined, changed, skipped
}

func (r *Repository) commitLocked(current *Record, fn func(*Record) error) (*Record, error) {
	scratch := current.Clone()
	if err := fn(&scratch); err != nil {
		return nil, err
	}
	now := r.now()
	normalize(&scratch, now)
	if err := checkInvariants(current, &scratch); err != nil {
		config.LogError(r.log, "deficit", "commit", "rejected mutation", scratch.ID, err)
		return nil, err
	}
	if !recordsEqual(current, &scratch) {
		scratch.UpdatedAt = now
	}
	r.records[scratch.ID] = &scratch
	return &scratch, nil
}

// recordsEqual compares the JSON form, which is what gets persisted.
func recordsEqual(a, b *Record) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}

// persist writes the collection. Must hold r.mu. A failed write is logged and
// counted; the in-memory state stays authoritative.
func (r *Repository) persist(ctx context.Context) {
	doc := collection{Version: collectionVersion, Records: make([]Record, 0, len(r.records))}
	for _, rec := range r.records {
		doc.Records = append(doc.Records, *rec)
	}
	sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].ID < doc.Records[j].ID })

	data, err := json.Marshal(doc)
	if err == nil {
		err = r.kv.Put(ctx, generic.KeyRecords, data)
	}
	if err != nil {
		metrics.PersistFailures.Inc()
		config.LogError(r.log, "deficit", "persist", "failed to persist records", len(doc.Records), err)
	}
}

// updateGauges refreshes the record gauges. Must hold r.mu.
func (r *Repository) updateGauges() {
	counts := map[Status]int{StatusPending: 0, StatusOverdue: 0, StatusPaid: 0}
	outstanding := decimal.Zero
	for _, rec := range r.records {
		counts[rec.Status]++
		if !rec.IsSettled() {
			outstanding = outstanding.Add(rec.RemainingBalance)
		}
	}
	for status, n := range counts {
		metrics.RecordsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	metrics.OutstandingBalance.Set(outstanding.InexactFloat64())
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (r *Repository) validateDraft(d Draft) error {
	if err := r.validate.Struct(d); err != nil {
		return validationError(err)
	}
	if d.Date.IsZero() {
		return invalid("date", "required")
	}
	if d.TotalSales.IsNegative() {
		return invalid("totalSales", "must not be negative")
	}
	if d.MoneyGiven.IsNegative() {
		return invalid("moneyGiven", "must not be negative")
	}
	if !generic.Cents(d.TotalSales).GreaterThan(generic.Cents(d.MoneyGiven)) {
		return invalid("moneyGiven", "no shortfall: money given covers total sales")
	}
	return nil
}

// validationError turns the first validator failure into a ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return invalid(fe.Field(), reason)
	}
	return invalid("", err.Error())
}

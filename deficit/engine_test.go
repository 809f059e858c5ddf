package deficit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testPIN = "4321"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingSink remembers every produced copy and fails the copies listed in
// fail.
type recordingSink struct {
	mu       sync.Mutex
	fail     map[int]error
	produced []int
	numbers  []string
}

func (s *recordingSink) Produce(_ context.Context, rec deficit.Record, copyNum int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[copyNum]; err != nil {
		return "", err
	}
	s.produced = append(s.produced, copyNum)
	s.numbers = append(s.numbers, rec.Receipt.Number)
	return "", nil
}

func (s *recordingSink) failCopy(copyNum int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = map[int]error{}
	}
	s.fail[copyNum] = err
}

func (s *recordingSink) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = nil
}

type harness struct {
	engine *deficit.Engine
	kv     *store.Memory
	clock  *clock
	sink   *recordingSink
}

func seed() *deficit.SettingsSeed {
	return &deficit.SettingsSeed{
		ManagerPIN:       testPIN,
		DueDateGraceDays: 5,
		MonthlySalary:    decimal.RequireFromString("30000"),
		BcryptCost:       bcrypt.MinCost,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, store.NewMemory())
}

func newHarnessOn(t *testing.T, kv *store.Memory) *harness {
	t.Helper()
	h := &harness{
		kv:    kv,
		clock: &clock{t: time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC)},
		sink:  &recordingSink{},
	}
	engine, err := deficit.New(context.Background(), kv, deficit.Options{
		Sink: h.sink,
		Now:  h.clock.Now,
		Seed: seed(),
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func draft(date generic.TimePoint, sales, given string) deficit.Draft {
	return deficit.Draft{
		Date:        date,
		Shift:       deficit.ShiftEvening,
		TotalSales:  decimal.RequireFromString(sales),
		MoneyGiven:  decimal.RequireFromString(given),
		EmployeeID:  "emp-1",
		TillNumber:  "T2",
		ManagerName: "Rosa",
	}
}

func (h *harness) create(t *testing.T, sales, given string) deficit.Record {
	t.Helper()
	rec, err := h.engine.Create(context.Background(), draft(generic.NewTimePoint(2025, time.March, 19), sales, given))
	require.NoError(t, err)
	return rec
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(generic.MoneyPlaces), msgAndArgs...)
}

// =============================================================================
// INTAKE
// =============================================================================

func TestCreate_DerivesShortAndDueDate(t *testing.T) {
	// GIVEN: A shift that handed over less than it sold
	// WHEN: The deficit is recorded
	// THEN: The short amount, balance and due date are derived

	h := newHarness(t)
	rec := h.create(t, "1243526.25", "1230026.25")

	assertMoney(t, "13500.00", rec.ShortAmount)
	assertMoney(t, "13500.00", rec.RemainingBalance)
	assert.Equal(t, deficit.StatusPending, rec.Status)
	assert.Equal(t, deficit.StatusPending, rec.OriginalStatus)
	assert.Equal(t, deficit.StageIdle, rec.Receipt.Stage)
	assert.Equal(t, "2025-03-24", rec.DueDate.String())
	assert.NotEmpty(t, rec.ID)
	assert.Empty(t, rec.Payments)
}

func TestCreate_RejectsInvalidDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := generic.NewTimePoint(2025, time.March, 19)

	tests := []struct {
		name  string
		draft deficit.Draft
		field string
	}{
		{"no shortfall", draft(day, "100", "100"), "moneyGiven"},
		{"surplus", draft(day, "100", "150"), "moneyGiven"},
		{"negative sales", draft(day, "-1", "0"), "totalSales"},
		{"missing date", draft(generic.TimePoint{}, "100", "50"), "date"},
		{"missing employee", func() deficit.Draft { d := draft(day, "100", "50"); d.EmployeeID = ""; return d }(), "employeeId"},
		{"bad shift", func() deficit.Draft { d := draft(day, "100", "50"); d.Shift = "brunch"; return d }(), "shift"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Create(ctx, tt.draft)
			require.Error(t, err)
			var vErr *generic.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.True(t, generic.IsClientError(err))
		})
	}

	all, err := h.engine.List(ctx, deficit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "rejected drafts must not be stored")
}

func TestUpdate_PatchesMetadataOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "400")

	notes := "recount pending"
	due := generic.NewTimePoint(2025, time.April, 1)
	updated, err := h.engine.Update(ctx, rec.ID, deficit.Patch{Notes: &notes, DueDate: &due})
	require.NoError(t, err)

	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, "2025-04-01", updated.DueDate.String())
	assertMoney(t, "100.00", updated.ShortAmount)

	_, err = h.engine.Update(ctx, rec.ID, deficit.Patch{DueDate: &generic.TimePoint{}})
	var vErr *generic.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "missing due date")
}

func TestDelete_RemovesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "400")

	require.NoError(t, h.engine.Delete(ctx, rec.ID))

	_, err := h.engine.Get(ctx, rec.ID)
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, generic.IsNotFound(h.engine.Delete(ctx, rec.ID)))
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "400")
	_, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(10), "")
	require.NoError(t, err)

	got, err := h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	got.Payments[0].Amount = decimal.NewFromInt(999)
	got.Status = deficit.StatusPaid

	again, err := h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assertMoney(t, "10.00", again.Payments[0].Amount)
	assert.Equal(t, deficit.StatusPending, again.Status)
}

func TestList_FiltersAndOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	later, err := h.engine.Create(ctx, draft(generic.NewTimePoint(2025, time.March, 18), "50", "40"))
	require.NoError(t, err)
	earlier, err := h.engine.Create(ctx, draft(generic.NewTimePoint(2025, time.March, 1), "50", "40"))
	require.NoError(t, err)
	_, err = h.engine.ApplyPayment(ctx, later.ID, decimal.NewFromInt(10), "")
	require.NoError(t, err)

	all, err := h.engine.List(ctx, deficit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, earlier.ID, all[0].ID)
	assert.Equal(t, later.ID, all[1].ID)

	paid, err := h.engine.List(ctx, deficit.Filter{Status: deficit.StatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, later.ID, paid[0].ID)

	_, err = h.engine.List(ctx, deficit.Filter{Status: "lost"})
	assert.True(t, generic.IsClientError(err))
}

// =============================================================================
// PARTIAL PAYMENTS
// =============================================================================

func TestApplyPayment_PartialThenFull(t *testing.T) {
	// GIVEN: A 13500.00 deficit
	// WHEN: 5000 is paid, then the rest
	// THEN: The balance drops to 8500.00 and then the record is paid

	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "1243526.25", "1230026.25")

	rec, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(5000), "first instalment")
	require.NoError(t, err)
	assertMoney(t, "8500.00", rec.RemainingBalance)
	assert.Equal(t, deficit.StatusPending, rec.Status)
	require.Len(t, rec.Payments, 1)
	assert.Equal(t, deficit.SourceManual, rec.Payments[0].Source)
	assert.Nil(t, rec.SettledAt)

	rec, err = h.engine.ApplyPayment(ctx, rec.ID, decimal.RequireFromString("8500"), "")
	require.NoError(t, err)
	assertMoney(t, "0.00", rec.RemainingBalance)
	assert.Equal(t, deficit.StatusPaid, rec.Status)
	require.NotNil(t, rec.SettledAt)
}

func TestApplyPayment_Overpayment_ClampsToZero(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "100", "40")

	rec, err := h.engine.ApplyPayment(context.Background(), rec.ID, decimal.NewFromInt(75), "")
	require.NoError(t, err)
	assertMoney(t, "0.00", rec.RemainingBalance)
	assert.Equal(t, deficit.StatusPaid, rec.Status)
}

func TestApplyPayment_NonPositive_RejectedWithoutMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "100", "40")

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.RequireFromString(amount), "")
		assert.ErrorIs(t, err, generic.ErrValidation, "amount %s", amount)
	}

	after, err := h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(rec, after))
}

func TestApplyPayment_OverdueStaysOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "100", "40")

	_, err := h.engine.EscalateAsOf(ctx, rec.DueDate.AddDays(2))
	require.NoError(t, err)

	rec, err = h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusOverdue, rec.Status)
	assert.True(t, rec.WasOverdue)
}

func TestApplyPayment_UnknownRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.ApplyPayment(context.Background(), "nope", decimal.NewFromInt(1), "")
	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, generic.RecordID("nope"), nf.ID)
}

// =============================================================================
// ESCALATION
// =============================================================================

func TestEscalate_PendingPastDueBecomesOverdue(t *testing.T) {
	// GIVEN: A pending record whose due date was 3 days ago
	// WHEN: The escalation pass runs
	// THEN: It is overdue by 3 days and flagged as having been overdue

	h := newHarness(t)
	ctx := context.Background()
	today := h.engine.Today()

	rec, err := h.engine.Create(ctx, draft(today.AddDays(-8), "100", "40"))
	require.NoError(t, err)
	require.Equal(t, 3, generic.DaysBetween(rec.DueDate, today))

	res, err := h.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, 1, res.Escalated)

	rec, err = h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusOverdue, rec.Status)
	assert.Equal(t, 3, rec.DaysOverdue)
	assert.True(t, rec.WasOverdue)
}

func TestEscalate_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	today := h.engine.Today()

	_, err := h.engine.Create(ctx, draft(today.AddDays(-10), "100", "40"))
	require.NoError(t, err)
	_, err = h.engine.Create(ctx, draft(today, "100", "40"))
	require.NoError(t, err)

	first, err := h.engine.EscalateAsOf(ctx, today)
	require.NoError(t, err)
	before, err := h.engine.List(ctx, deficit.Filter{})
	require.NoError(t, err)

	second, err := h.engine.EscalateAsOf(ctx, today)
	require.NoError(t, err)
	after, err := h.engine.List(ctx, deficit.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Escalated)
	assert.Equal(t, 0, second.Escalated)
	assert.Empty(t, cmp.Diff(before, after))
}

func TestEscalate_LeavesPaidAndNotYetDueAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	today := h.engine.Today()

	paid, err := h.engine.Create(ctx, draft(today.AddDays(-30), "100", "40"))
	require.NoError(t, err)
	_, err = h.engine.ApplyPayment(ctx, paid.ID, decimal.NewFromInt(60), "")
	require.NoError(t, err)

	dueToday, err := h.engine.Create(ctx, draft(today.AddDays(-5), "100", "40"))
	require.NoError(t, err)

	res, err := h.engine.EscalateAsOf(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)

	got, _ := h.engine.Get(ctx, paid.ID)
	assert.Equal(t, deficit.StatusPaid, got.Status)
	assert.False(t, got.WasOverdue)

	got, _ = h.engine.Get(ctx, dueToday.ID)
	assert.Equal(t, deficit.StatusPending, got.Status)
	assert.Equal(t, 0, got.DaysOverdue)
}

// =============================================================================
// SETTLEMENT WORKFLOW
// =============================================================================

func TestWorkflow_FullRun_ArchiveSynthesizesSettlement(t *testing.T) {
	// GIVEN: A fresh pending 2200.00 deficit
	// WHEN: The whole print, sign, sign, archive workflow runs
	// THEN: The record is paid by exactly one synthesised 2200.00 payment

	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "12200", "10000")
	assertMoney(t, "2200.00", rec.ShortAmount)

	rec, err := h.engine.Print(ctx, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Receipt.CopiesPrinted)
	assert.True(t, rec.Receipt.Printed)
	assert.Regexp(t, `^RCPT-20250320-[0-9A-F]{8}$`, rec.Receipt.Number)
	assert.Equal(t, deficit.StageVendorSign, rec.Receipt.Stage)
	assert.Equal(t, []int{deficit.CopyVendor, deficit.CopyManager}, h.sink.produced)
	assert.Equal(t, h.sink.numbers[0], rec.Receipt.Number)

	rec, err = h.engine.ConfirmVendorSigned(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, rec.Receipt.VendorSigned)

	rec, err = h.engine.ConfirmManagerSigned(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, rec.Receipt.ManagerSigned)
	assert.Equal(t, deficit.StageArchiving, rec.Receipt.Stage)

	rec, err = h.engine.ConfirmArchive(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusPaid, rec.Status)
	assertMoney(t, "0.00", rec.RemainingBalance)
	assert.True(t, rec.Receipt.CopyArchived)
	require.Len(t, rec.Payments, 1)
	assertMoney(t, "2200.00", rec.Payments[0].Amount)
	assert.Equal(t, deficit.SourceSettlement, rec.Payments[0].Source)
}

func TestWorkflow_ArchiveSettlesOnlyTheRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "12200", "10000")

	_, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(200), "")
	require.NoError(t, err)
	rec = runToArchiving(t, h, rec.ID)

	rec, err = h.engine.ConfirmArchive(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, rec.Payments, 2)
	assertMoney(t, "2000.00", rec.Payments[1].Amount)
	assertMoney(t, "2200.00", rec.PaidTotal())
}

func TestWorkflow_CopyOneFailure_LeavesRecordUnchanged(t *testing.T) {
	// GIVEN: A printer that is offline
	// WHEN: Print is requested
	// THEN: A sink error for copy 1 is returned and nothing about the record changes

	h := newHarness(t)
	ctx := context.Background()
	before := h.create(t, "500", "300")
	h.sink.failCopy(deficit.CopyVendor, errors.New("printer offline"))

	_, err := h.engine.Print(ctx, before.ID, "Rosa")
	require.Error(t, err)
	var sinkErr *deficit.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, deficit.CopyVendor, sinkErr.Copy)
	assert.ErrorIs(t, err, generic.ErrSinkUnavailable)
	assert.True(t, generic.IsRetryable(err))

	after, err := h.engine.Get(ctx, before.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after))
	assert.False(t, after.Receipt.Printed)
	assert.Equal(t, 0, after.Receipt.CopiesPrinted)
}

func TestWorkflow_CopyTwoFailure_KeepsCopyOneAndRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	h.sink.failCopy(deficit.CopyManager, errors.New("paper jam"))

	rec, err := h.engine.Print(ctx, rec.ID, "Rosa")
	var sinkErr *deficit.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, deficit.CopyManager, sinkErr.Copy)
	assert.Equal(t, deficit.StagePrinting, rec.Receipt.Stage)
	assert.Equal(t, 1, rec.Receipt.CopiesPrinted)
	number := rec.Receipt.Number

	_, err = h.engine.ConfirmVendorSigned(ctx, rec.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	h.sink.heal()
	rec, err = h.engine.Print(ctx, rec.ID, "Rosa")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Receipt.CopiesPrinted)
	assert.Equal(t, number, rec.Receipt.Number, "retry must keep the receipt number")
	assert.Equal(t, []int{deficit.CopyVendor, deficit.CopyManager}, h.sink.produced)
}

func TestWorkflow_SinkReceiptNumberWins(t *testing.T) {
	h := newHarness(t)
	h.engine = mustEngine(t, h.kv, deficit.SinkFunc(func(context.Context, deficit.Record, int) (string, error) {
		return "Q-77", nil
	}))
	rec := h.create(t, "500", "300")

	rec, err := h.engine.Print(context.Background(), rec.ID, "Rosa")
	require.NoError(t, err)
	assert.Equal(t, "Q-77", rec.Receipt.Number)
}

func TestWorkflow_NoSinkConfigured(t *testing.T) {
	h := newHarness(t)
	h.engine = mustEngine(t, h.kv, nil)
	rec := h.create(t, "500", "300")

	_, err := h.engine.Print(context.Background(), rec.ID, "Rosa")
	assert.ErrorIs(t, err, generic.ErrSinkUnavailable)
}

func TestWorkflow_SlowSinkTimesOut(t *testing.T) {
	// GIVEN: A sink that only returns once its context is done
	// WHEN: Print is called twice
	// THEN: Each call fails with a SinkError for copy 1 after the sink
	//       timeout, the record stays idle and the guard is released

	ctx := context.Background()
	stalled := deficit.SinkFunc(func(ctx context.Context, _ deficit.Record, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	engine, err := deficit.New(ctx, store.NewMemory(), deficit.Options{
		Sink:        stalled,
		SinkTimeout: 20 * time.Millisecond,
		Seed:        seed(),
	})
	require.NoError(t, err)
	rec, err := engine.Create(ctx, draft(generic.NewTimePoint(2025, time.March, 19), "500", "300"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = engine.Print(ctx, rec.ID, "")
		var sinkErr *deficit.SinkError
		require.ErrorAs(t, err, &sinkErr)
		assert.Equal(t, deficit.CopyVendor, sinkErr.Copy)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, generic.ErrBusy)
	}

	got, err := engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deficit.StageIdle, got.Receipt.Stage)
}

func TestWorkflow_OutOfOrderActionsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")

	_, err := h.engine.ConfirmManagerSigned(ctx, rec.ID)
	var tErr *deficit.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, deficit.ActionManagerSigned, tErr.Action)
	assert.Equal(t, deficit.StageIdle, tErr.Stage)

	_, err = h.engine.ConfirmArchive(ctx, rec.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = h.engine.Print(ctx, rec.ID, "Rosa")
	require.NoError(t, err)
	_, err = h.engine.Print(ctx, rec.ID, "Rosa")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "reprinting after both copies")

	after, _ := h.engine.Get(ctx, rec.ID)
	assert.False(t, after.Receipt.VendorSigned)
	assert.False(t, after.Receipt.ManagerSigned)
}

func TestWorkflow_PrintRequiresManagerAndUnpaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := draft(h.engine.Today(), "500", "300")
	d.ManagerName = ""
	rec, err := h.engine.Create(ctx, d)
	require.NoError(t, err)

	_, err = h.engine.Print(ctx, rec.ID, "  ")
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.Empty(t, h.sink.produced)

	_, err = h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(200), "")
	require.NoError(t, err)
	_, err = h.engine.Print(ctx, rec.ID, "Rosa")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestWorkflow_BusyRecordRejected(t *testing.T) {
	// GIVEN: A print whose copy 1 is still being produced
	// WHEN: Another action arrives for the same record
	// THEN: It is rejected as busy

	kv := store.NewMemory()
	started := make(chan struct{})
	unblock := make(chan struct{})
	engine := mustEngine(t, kv, deficit.SinkFunc(func(_ context.Context, _ deficit.Record, copyNum int) (string, error) {
		if copyNum == deficit.CopyVendor {
			close(started)
			<-unblock
		}
		return "", nil
	}))
	ctx := context.Background()
	rec, err := engine.Create(ctx, draft(engine.Today(), "500", "300"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Print(ctx, rec.ID, "Rosa")
		done <- err
	}()
	<-started

	_, err = engine.Print(ctx, rec.ID, "Rosa")
	assert.ErrorIs(t, err, generic.ErrBusy)
	assert.ErrorIs(t, engine.Delete(ctx, rec.ID), generic.ErrBusy)

	close(unblock)
	require.NoError(t, <-done)
}

// =============================================================================
// CANCELLATION & PAYROLL
// =============================================================================

func TestPayroll_WrongPIN_ChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := h.create(t, "500", "300")

	_, err := h.engine.SettleViaPayroll(ctx, before.ID, "9999")
	assert.ErrorIs(t, err, generic.ErrAuthorizationDenied)

	after, err := h.engine.Get(ctx, before.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after))
}

func TestPayroll_SettlesAndResetsWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	_, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(50), "")
	require.NoError(t, err)
	rec, err = h.engine.Print(ctx, rec.ID, "Rosa")
	require.NoError(t, err)

	rec, err = h.engine.SettleViaPayroll(ctx, rec.ID, testPIN)
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusPaid, rec.Status)
	assert.True(t, rec.PaidFromPayroll)
	require.NotNil(t, rec.SettledAt)
	assert.Equal(t, deficit.Receipt{Stage: deficit.StageIdle}, rec.Receipt)
	require.Len(t, rec.Payments, 2)
	assert.Equal(t, deficit.SourcePayroll, rec.Payments[1].Source)
	assertMoney(t, "150.00", rec.Payments[1].Amount)

	_, err = h.engine.SettleViaPayroll(ctx, rec.ID, testPIN)
	assert.ErrorIs(t, err, generic.ErrValidation, "already paid")
}

func TestCancel_OverduePaidRecordReturnsToOverdue(t *testing.T) {
	// GIVEN: A record that went overdue and was then settled through payroll
	// WHEN: A manager cancels with the right PIN
	// THEN: It is overdue again with every workflow flag cleared

	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	_, err := h.engine.EscalateAsOf(ctx, rec.DueDate.AddDays(1))
	require.NoError(t, err)
	_, err = h.engine.SettleViaPayroll(ctx, rec.ID, testPIN)
	require.NoError(t, err)

	rec, err = h.engine.Cancel(ctx, rec.ID, testPIN, "deducted from the wrong worker")
	require.NoError(t, err)

	assert.Equal(t, deficit.StatusOverdue, rec.Status)
	assert.True(t, rec.WasOverdue)
	assert.False(t, rec.PaidFromPayroll)
	assert.Equal(t, deficit.Receipt{Stage: deficit.StageIdle}, rec.Receipt)
	assert.Empty(t, rec.Payments)
	assertMoney(t, "200.00", rec.RemainingBalance)
	assert.Nil(t, rec.SettledAt)
	assert.Equal(t, "deducted from the wrong worker", rec.CancellationReason)
	require.NotNil(t, rec.CancelledAt)
}

func TestCancel_ArchivedRecordKeepsManualPayments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	_, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(80), "")
	require.NoError(t, err)
	runToArchiving(t, h, rec.ID)
	_, err = h.engine.ConfirmArchive(ctx, rec.ID)
	require.NoError(t, err)

	rec, err = h.engine.Cancel(ctx, rec.ID, testPIN, "")
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusPending, rec.Status)
	require.Len(t, rec.Payments, 1)
	assert.Equal(t, deficit.SourceManual, rec.Payments[0].Source)
	assertMoney(t, "120.00", rec.RemainingBalance)
}

func TestCancel_WrongPIN_Denied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	before := runToArchiving(t, h, rec.ID)

	_, err := h.engine.Cancel(ctx, rec.ID, "", "oops")
	assert.ErrorIs(t, err, generic.ErrAuthorizationDenied)

	after, err := h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after))
}

func TestPayrollCapacity_SumsMonthDeductions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.create(t, "20500", "500")
	b := h.create(t, "15000", "5000")
	c := h.create(t, "900", "800")

	_, err := h.engine.SettleViaPayroll(ctx, a.ID, testPIN)
	require.NoError(t, err)
	_, err = h.engine.SettleViaPayroll(ctx, b.ID, testPIN)
	require.NoError(t, err)
	_, err = h.engine.ApplyPayment(ctx, c.ID, decimal.NewFromInt(100), "")
	require.NoError(t, err)

	month := generic.MonthOf(h.engine.Today())
	report, err := h.engine.PayrollCapacity(ctx, month, "")
	require.NoError(t, err)
	assertMoney(t, "30000.00", report.MonthlySalary)
	assertMoney(t, "30000.00", report.Deductions)
	assertMoney(t, "0.00", report.Remaining)
	assert.False(t, report.Exceeded)
	assert.ElementsMatch(t, []generic.RecordID{a.ID, b.ID}, report.Records)

	next, err := h.engine.PayrollCapacity(ctx, generic.MonthOf(month.End.AddDays(1)), "")
	require.NoError(t, err)
	assertMoney(t, "0.00", next.Deductions)

	other, err := h.engine.PayrollCapacity(ctx, month, "emp-2")
	require.NoError(t, err)
	assert.Empty(t, other.Records)
}

func TestPayrollCapacity_ExceededIsAdvisory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t, "40000", "5000")

	_, err := h.engine.SettleViaPayroll(ctx, a.ID, testPIN)
	require.NoError(t, err, "exceeding capacity does not block settlement")

	report, err := h.engine.PayrollCapacity(ctx, generic.MonthOf(h.engine.Today()), "emp-1")
	require.NoError(t, err)
	assert.True(t, report.Exceeded)
	assertMoney(t, "-5000.00", report.Remaining)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestChangeSettings_RequiresPINAndAppliesToNewRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	grace := 10
	_, err := h.engine.ChangeSettings(ctx, "0000", deficit.SettingsUpdate{DueDateGraceDays: &grace})
	assert.ErrorIs(t, err, generic.ErrAuthorizationDenied)

	old := h.create(t, "500", "300")

	newPIN := "24680"
	view, err := h.engine.ChangeSettings(ctx, testPIN, deficit.SettingsUpdate{NewPIN: &newPIN, DueDateGraceDays: &grace})
	require.NoError(t, err)
	assert.Equal(t, 10, view.DueDateGraceDays)

	fresh := h.create(t, "500", "300")
	assert.Equal(t, 10, generic.DaysBetween(fresh.Date, fresh.DueDate))

	old, err = h.engine.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, generic.DaysBetween(old.Date, old.DueDate))

	assert.ErrorIs(t, h.engine.Gate().Verify(ctx, testPIN), generic.ErrAuthorizationDenied)
	assert.NoError(t, h.engine.Gate().Verify(ctx, newPIN))
}

func TestChangeSettings_RejectsBadPIN(t *testing.T) {
	h := newHarness(t)
	for _, pin := range []string{"12", "123456789", "12a4", ""} {
		p := pin
		_, err := h.engine.ChangeSettings(context.Background(), testPIN, deficit.SettingsUpdate{NewPIN: &p})
		assert.ErrorIs(t, err, generic.ErrValidation, "pin %q", pin)
	}
}

func TestDefaultPIN_WhenSeedOmitsIt(t *testing.T) {
	engine, err := deficit.New(context.Background(), store.NewMemory(), deficit.Options{
		Seed: &deficit.SettingsSeed{DueDateGraceDays: 5, BcryptCost: bcrypt.MinCost},
	})
	require.NoError(t, err)
	assert.NoError(t, engine.Gate().Verify(context.Background(), deficit.DefaultManagerPIN))
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestPersistence_ReloadRestoresRecordsAndSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	rec, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.RequireFromString("12.5"), "cash")
	require.NoError(t, err)

	reopened := newHarnessOn(t, h.kv)
	got, err := reopened.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(rec, got))
	assert.NoError(t, reopened.engine.Gate().Verify(ctx, testPIN))
}

func TestPersistence_CorruptCollectionFallsBackToEmpty(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Put(context.Background(), generic.KeyRecords, []byte("{not json")))

	h := newHarnessOn(t, kv)
	all, err := h.engine.List(context.Background(), deficit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPersistence_LegacyArrayIsAccepted(t *testing.T) {
	kv := store.NewMemory()
	legacy := `[{"id":"old-1","date":"2025-01-02","dueDate":"2025-01-07","shift":"night",
		"totalSales":"100","moneyGiven":"60","shortAmount":"40","partialPayments":[],
		"remainingBalance":"40","status":"pending","originalStatus":"pending",
		"receipt":{"stage":"idle"},"employeeId":"emp-9"}]`
	require.NoError(t, kv.Put(context.Background(), generic.KeyRecords, []byte(legacy)))

	h := newHarnessOn(t, kv)
	rec, err := h.engine.Get(context.Background(), "old-1")
	require.NoError(t, err)
	assertMoney(t, "40.00", rec.RemainingBalance)
	assert.Equal(t, deficit.ShiftNight, rec.Shift)
}

func TestPersistence_BrokenRecordDoesNotBlockEscalation(t *testing.T) {
	// GIVEN: A stored collection with a record missing its receipt, a record
	//        whose workflow flags disagree with its stage, and a clean record,
	//        all pending and past due
	// WHEN: Escalation runs twice and the store is reopened
	// THEN: The clean and receipt-less records are overdue and persisted,
	//       the tangled record is kept as loaded and skipped each pass

	kv := store.NewMemory()
	doc := `{"version":1,"records":[
		{"id":"no-receipt","date":"2025-01-02","dueDate":"2025-01-07","shift":"night",
		 "totalSales":"100","moneyGiven":"60","partialPayments":[],
		 "status":"pending","originalStatus":"pending","employeeId":"emp-9"},
		{"id":"tangled","date":"2025-01-02","dueDate":"2025-01-07","shift":"night",
		 "totalSales":"100","moneyGiven":"70","partialPayments":[],
		 "status":"pending","originalStatus":"pending",
		 "receipt":{"stage":"vendor_sign"},"employeeId":"emp-9"},
		{"id":"clean","date":"2025-01-02","dueDate":"2025-01-07","shift":"night",
		 "totalSales":"100","moneyGiven":"80","partialPayments":[],
		 "status":"pending","originalStatus":"pending",
		 "receipt":{"stage":"idle"},"employeeId":"emp-9"}]}`
	require.NoError(t, kv.Put(context.Background(), generic.KeyRecords, []byte(doc)))

	h := newHarnessOn(t, kv)
	ctx := context.Background()

	tangled, err := h.engine.Get(ctx, "tangled")
	require.NoError(t, err, "records breaking an invariant are kept on load")
	assert.Equal(t, deficit.StageVendorSign, tangled.Receipt.Stage)

	noReceipt, err := h.engine.Get(ctx, "no-receipt")
	require.NoError(t, err)
	assert.Equal(t, deficit.StageIdle, noReceipt.Receipt.Stage)

	res, err := h.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Examined)
	assert.Equal(t, 2, res.Escalated)
	assert.Equal(t, 1, res.Skipped)

	res, err = h.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)
	assert.Equal(t, 1, res.Skipped)

	_, err = h.engine.ApplyPayment(ctx, "no-receipt", decimal.NewFromInt(10), "cash")
	require.NoError(t, err)

	reopened := newHarnessOn(t, h.kv)
	for id, want := range map[generic.RecordID]deficit.Status{
		"clean":      deficit.StatusOverdue,
		"no-receipt": deficit.StatusOverdue,
		"tangled":    deficit.StatusPending,
	} {
		got, err := reopened.engine.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "record %s", id)
	}
	got, err := reopened.engine.Get(ctx, "no-receipt")
	require.NoError(t, err)
	assertMoney(t, "30.00", got.RemainingBalance)
	assert.True(t, got.WasOverdue)
}

func TestPersistence_WriteFailureIsNotReturned(t *testing.T) {
	// GIVEN: A store that rejects every write
	// WHEN: A payment is applied
	// THEN: The call succeeds and the in-memory state reflects it

	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	h.kv.FailPuts = errors.New("disk full")

	rec, err := h.engine.ApplyPayment(ctx, rec.ID, decimal.NewFromInt(200), "")
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusPaid, rec.Status)

	got, err := h.engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deficit.StatusPaid, got.Status)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExport_FlatRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "500", "300")
	_, err := h.engine.Print(ctx, rec.ID, "Rosa")
	require.NoError(t, err)

	rows, err := h.engine.Export(ctx, deficit.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	values := rows[0].Values()
	require.Len(t, values, len(deficit.Columns()))
	byColumn := map[string]string{}
	for i, c := range deficit.Columns() {
		byColumn[c] = values[i]
	}
	assert.Equal(t, string(rec.ID), byColumn["id"])
	assert.Equal(t, "2025-03-19", byColumn["date"])
	assert.Equal(t, "200.00", byColumn["short_amount"])
	assert.Equal(t, "evening", byColumn["shift"])
	assert.NotEmpty(t, byColumn["receipt_number"])
	assert.Equal(t, "false", byColumn["paid_from_payroll"])
}

// =============================================================================
// HELPERS
// =============================================================================

func runToArchiving(t *testing.T, h *harness, id generic.RecordID) deficit.Record {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.Print(ctx, id, "Rosa")
	require.NoError(t, err)
	_, err = h.engine.ConfirmVendorSigned(ctx, id)
	require.NoError(t, err)
	rec, err := h.engine.ConfirmManagerSigned(ctx, id)
	require.NoError(t, err)
	return rec
}

func mustEngine(t *testing.T, kv *store.Memory, sink deficit.DocumentSink) *deficit.Engine {
	t.Helper()
	c := &clock{t: time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC)}
	engine, err := deficit.New(context.Background(), kv, deficit.Options{Sink: sink, Now: c.Now, Seed: seed()})
	require.NoError(t, err)
	return engine
}

package sink_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/generic/store"
	"github.com/warp/deficit-engine/sink"
)

func printedRecord() deficit.Record {
	printed := time.Date(2025, time.March, 20, 10, 30, 0, 0, time.UTC)
	return deficit.Record{
		ID:               "rec-1",
		Date:             generic.NewTimePoint(2025, time.March, 19),
		DueDate:          generic.NewTimePoint(2025, time.March, 24),
		Shift:            deficit.ShiftNight,
		TotalSales:       decimal.RequireFromString("1243526.25"),
		MoneyGiven:       decimal.RequireFromString("1230026.25"),
		ShortAmount:      decimal.RequireFromString("13500"),
		RemainingBalance: decimal.RequireFromString("13500"),
		EmployeeID:       "emp-7",
		ManagerName:      "Rosa",
		Receipt: deficit.Receipt{
			Stage:         deficit.StagePrinting,
			Printed:       true,
			Number:        "RCPT-20250320-ABCDEF12",
			PrintDate:     &printed,
			CopiesPrinted: 1,
		},
	}
}

func TestNewDocument(t *testing.T) {
	doc, err := sink.NewDocument(printedRecord(), deficit.CopyManager)
	require.NoError(t, err)

	assert.Equal(t, "manager", doc.CopyFor)
	assert.Equal(t, "13500.00", doc.ShortAmount)
	assert.Equal(t, "0.00", doc.AlreadyPaid)
	assert.Equal(t, "2025-03-19", doc.ShiftDate)
	assert.Equal(t, "RCPT-20250320-ABCDEF12-copy2.json", doc.Name())

	rec := printedRecord()
	rec.Receipt.Number = ""
	_, err = sink.NewDocument(rec, deficit.CopyVendor)
	assert.Error(t, err)
}

func TestDocumentName_SanitisesSinkNumbers(t *testing.T) {
	rec := printedRecord()
	rec.Receipt.Number = "../Q 7"
	doc, err := sink.NewDocument(rec, deficit.CopyVendor)
	require.NoError(t, err)
	assert.Equal(t, "___Q_7-copy1.json", doc.Name())
}

func TestSpool_WritesOneFilePerCopy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	spool, err := sink.NewSpool(dir, config.DiscardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	number, err := spool.Produce(ctx, printedRecord(), deficit.CopyVendor)
	require.NoError(t, err)
	assert.Equal(t, "RCPT-20250320-ABCDEF12", number)
	_, err = spool.Produce(ctx, printedRecord(), deficit.CopyManager)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no temp files should remain")

	data, err := os.ReadFile(filepath.Join(dir, "RCPT-20250320-ABCDEF12-copy1.json"))
	require.NoError(t, err)
	var doc sink.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "vendor", doc.CopyFor)
	assert.Equal(t, "emp-7", doc.EmployeeID)
}

func TestSpool_CancelledContext(t *testing.T) {
	spool, err := sink.NewSpool(t.TempDir(), config.DiscardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = spool.Produce(ctx, printedRecord(), deficit.CopyVendor)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpool_DrivesPrintWorkflow(t *testing.T) {
	// GIVEN: An engine printing into a spool directory
	// WHEN: A deficit is printed
	// THEN: Both copies are spooled under the committed receipt number

	dir := t.TempDir()
	spool, err := sink.NewSpool(dir, config.DiscardLogger())
	require.NoError(t, err)
	ctx := context.Background()
	engine, err := deficit.New(ctx, store.NewMemory(), deficit.Options{
		Sink: spool,
		Seed: &deficit.SettingsSeed{DueDateGraceDays: 5, BcryptCost: bcrypt.MinCost},
	})
	require.NoError(t, err)

	rec, err := engine.Create(ctx, deficit.Draft{
		Date:        generic.Today(),
		Shift:       deficit.ShiftMorning,
		TotalSales:  decimal.NewFromInt(300),
		MoneyGiven:  decimal.NewFromInt(100),
		EmployeeID:  "emp-1",
		ManagerName: "Rosa",
	})
	require.NoError(t, err)
	rec, err = engine.Print(ctx, rec.ID, "")
	require.NoError(t, err)

	for _, n := range []int{1, 2} {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%s-copy%d.json", rec.Receipt.Number, n)))
		assert.NoError(t, err, "copy %d", n)
	}
}

func TestGCS_Upload(t *testing.T) {
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" {
		t.Skip("STORAGE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := sink.NewGCSClient(ctx)
	require.NoError(t, err)
	gcs := sink.NewGCS(client, "deficit-test", "receipts/", config.DiscardLogger())
	t.Cleanup(func() { gcs.Close() })

	number, err := gcs.Produce(ctx, printedRecord(), deficit.CopyVendor)
	require.NoError(t, err)
	assert.Equal(t, "RCPT-20250320-ABCDEF12", number)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/store/sqlite"
)

// seedDB writes one pending deficit (due 2025-03-24) into a fresh database
// file and returns its path and the record id.
func seedDB(t *testing.T) (string, generic.RecordID) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deficits.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	engine, err := deficit.New(context.Background(), s, deficit.Options{
		Seed: &deficit.SettingsSeed{ManagerPIN: "7777", DueDateGraceDays: 5, BcryptCost: bcrypt.MinCost},
	})
	require.NoError(t, err)

	rec, err := engine.Create(context.Background(), deficit.Draft{
		Date:       generic.NewTimePoint(2025, time.March, 19),
		Shift:      deficit.ShiftNight,
		TotalSales: decimal.NewFromInt(420),
		MoneyGiven: decimal.NewFromInt(400),
		EmployeeID: "emp-9",
	})
	require.NoError(t, err)
	return path, rec.ID
}

func execute(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	root, c := newRootCmd()
	defer c.close()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", "", "--storage", "sqlite", "--db", db}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_EscalateThenList(t *testing.T) {
	// GIVEN: A pending deficit due 2025-03-24
	db, id := seedDB(t)

	// WHEN: Escalation runs as of 2025-03-30
	out, err := execute(t, db, "escalate", "--as-of", "2025-03-30")
	require.NoError(t, err)
	assert.Contains(t, out, "escalated 1")

	// THEN: The record is listed as overdue
	out, err = execute(t, db, "list", "--status", "overdue")
	require.NoError(t, err)
	assert.Contains(t, out, string(id))
	assert.Contains(t, out, "20.00")

	out, err = execute(t, db, "show", string(id))
	require.NoError(t, err)
	assert.Contains(t, out, `"daysOverdue": 6`)
}

func TestCLI_Export(t *testing.T) {
	db, _ := seedDB(t)
	dir := t.TempDir()

	out, err := execute(t, db, "export", "--format", "csv", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 records")

	matches, err := filepath.Glob(filepath.Join(dir, "deficits-*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, 2, len(strings.Split(strings.TrimSpace(string(data)), "\n")))

	_, err = execute(t, db, "export", "--format", "pdf", "--dir", dir)
	assert.Error(t, err)
}

func TestCLI_SettingsRequirePIN(t *testing.T) {
	db, _ := seedDB(t)

	_, err := execute(t, db, "settings", "--pin", "0000", "--grace-days", "9")
	assert.ErrorIs(t, err, generic.ErrAuthorizationDenied)

	out, err := execute(t, db, "settings", "--pin", "7777", "--grace-days", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "due date grace days: 9")

	out, err = execute(t, db, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "due date grace days: 9", "the change was persisted")
}

func TestCLI_DeleteUnknown(t *testing.T) {
	db, id := seedDB(t)

	_, err := execute(t, db, "delete", "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	out, err := execute(t, db, "delete", string(id))
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
}

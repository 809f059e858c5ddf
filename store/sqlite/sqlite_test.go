package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/store/sqlite"
)

func TestStore_GetPut(t *testing.T) {
	for _, driver := range []string{sqlite.DriverCGO, sqlite.DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			store, err := sqlite.Open(driver, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			ctx := context.Background()

			_, ok, err := store.Get(ctx, generic.KeyRecords)
			require.NoError(t, err)
			assert.False(t, ok, "absent key is not an error")

			require.NoError(t, store.Put(ctx, generic.KeyRecords, []byte(`{"version":1}`)))
			require.NoError(t, store.Put(ctx, generic.KeyRecords, []byte(`{"version":1,"records":[]}`)))

			data, ok, err := store.Get(ctx, generic.KeyRecords)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"version":1,"records":[]}`, string(data))
		})
	}
}

func TestStore_UnknownDriver(t *testing.T) {
	_, err := sqlite.Open("postgres", ":memory:")
	assert.Error(t, err)
}

func TestStore_EngineSurvivesReopen(t *testing.T) {
	// GIVEN: An engine writing to a database file
	// WHEN: The file is reopened by a new engine
	// THEN: The records and the manager PIN are still there

	path := filepath.Join(t.TempDir(), "deficits.db")
	ctx := context.Background()
	seed := &deficit.SettingsSeed{ManagerPIN: "5555", DueDateGraceDays: 5, BcryptCost: bcrypt.MinCost}

	first, err := sqlite.New(path)
	require.NoError(t, err)
	engine, err := deficit.New(ctx, first, deficit.Options{Seed: seed})
	require.NoError(t, err)
	rec, err := engine.Create(ctx, deficit.Draft{
		Date:       generic.Today(),
		Shift:      deficit.ShiftMorning,
		TotalSales: decimal.NewFromInt(300),
		MoneyGiven: decimal.NewFromInt(250),
		EmployeeID: "emp-1",
	})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	reopened, err := deficit.New(ctx, second, deficit.Options{Seed: &deficit.SettingsSeed{BcryptCost: bcrypt.MinCost}})
	require.NoError(t, err)

	got, err := reopened.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", got.ShortAmount.StringFixed(2))
	assert.NoError(t, reopened.Gate().Verify(ctx, "5555"))
}

package datastore

import (
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
)

func newTestStore(t *testing.T) *DataStore {
	t.Helper()
	ds := New(conf.DatabaseSettings{
		Driver: conf.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "data", "history.db"),
	})
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

// fixedClock returns successive timestamps one second apart starting at base.
func fixedClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	next := base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func strPtr(s string) *string { return &s }

func TestAppendEventDerivesStatus(t *testing.T) {
	ds := newTestStore(t)

	positive, err := ds.AppendEvent(strPtr("DETECTED_20251112100000_aaaaaaaa.jpg"), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDetected, positive.DetectionStatus)
	assert.NotZero(t, positive.ID)

	negative, err := ds.AppendEvent(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusNotDetected, negative.DetectionStatus)
	assert.Nil(t, negative.CaptureImage)

	_, err = time.Parse(DatetimeLayout, negative.Datetime)
	require.NoError(t, err)
	assert.Len(t, negative.Datetime, 19)
}

func TestAppendEventRejectsNegativeCount(t *testing.T) {
	ds := newTestStore(t)

	_, err := ds.AppendEvent(nil, -1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	n, err := ds.CountEvents()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListEventsNewestFirst(t *testing.T) {
	ds := newTestStore(t)
	ds.now = fixedClock(time.Date(2025, 11, 12, 10, 0, 0, 0, time.Local))

	for i := range 3 {
		_, err := ds.AppendEvent(nil, i)
		require.NoError(t, err)
	}

	entries, err := ds.ListEvents()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-11-12 10:00:02", entries[0].Datetime)
	assert.Equal(t, 2, entries[0].PersonCount)
	assert.Equal(t, "2025-11-12 10:00:00", entries[2].Datetime)
}

func TestListEventsEmptyIsNotNil(t *testing.T) {
	ds := newTestStore(t)

	entries, err := ds.ListEvents()
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestLampStateTracksLatest(t *testing.T) {
	ds := newTestStore(t)

	state, err := ds.CurrentLampState()
	require.NoError(t, err)
	assert.Equal(t, LampUnknown, state)

	latest, err := ds.LatestLampStatus()
	require.NoError(t, err)
	assert.Nil(t, latest)

	// identical timestamps fall back to insertion order
	ds.now = func() time.Time { return time.Date(2025, 11, 12, 10, 0, 0, 0, time.Local) }
	require.NoError(t, ds.AppendLampState(LampOn))
	require.NoError(t, ds.AppendLampState(LampOff))

	state, err = ds.CurrentLampState()
	require.NoError(t, err)
	assert.Equal(t, LampOff, state)

	err = ds.AppendLampState(LampUnknown)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestConcurrentAppends(t *testing.T) {
	ds := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ds.AppendEvent(nil, n%3)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := ds.CountEvents()
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func TestSeedOnlyFillsEmptyTables(t *testing.T) {
	ds := newTestStore(t)

	added, err := ds.Seed()
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	entries, err := ds.ListEvents()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-11-12 10:10:45", entries[0].Datetime)
	assert.Equal(t, 2, entries[0].PersonCount)
	assert.Equal(t, StatusDetected, entries[0].DetectionStatus)

	state, err := ds.CurrentLampState()
	require.NoError(t, err)
	assert.Equal(t, LampOn, state)

	added, err = ds.Seed()
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestUnopenedStoreFails(t *testing.T) {
	ds := New(conf.DatabaseSettings{Driver: conf.DriverSQLite})

	_, err := ds.ListEvents()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))

	err = ds.Close()
	require.Error(t, err)
}

func TestGetDialector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		driver   string
		settings conf.DatabaseSettings
		wantErr  bool
	}{
		{"sqlite", conf.DriverSQLite, conf.DatabaseSettings{Path: filepath.Join(t.TempDir(), "x.db")}, false},
		{"sqlite without path", conf.DriverSQLite, conf.DatabaseSettings{}, true},
		{"mysql", conf.DriverMySQL, conf.DatabaseSettings{Host: "db", Port: 3306, Name: "lampwatch"}, false},
		{"postgres", conf.DriverPostgres, conf.DatabaseSettings{Host: "db", Port: 5432, Name: "lampwatch"}, false},
		{"unknown", "oracle", conf.DatabaseSettings{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := getDialector(tt.driver, tt.settings)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, d.Name())
		})
	}
}

func TestDSNs(t *testing.T) {
	t.Parallel()

	s := conf.DatabaseSettings{Host: "db", Port: 3306, Username: "lamp", Password: "secret", Name: "lampwatch"}
	dsn := mysqlDSN(s)
	assert.Contains(t, dsn, "lamp:secret@tcp(db:3306)/lampwatch")
	assert.Contains(t, dsn, "parseTime=true")

	s.Port = 5432
	assert.Contains(t, postgresDSN(s), "sslmode=disable")
	assert.NotContains(t, describeTarget(conf.DriverPostgres, s), "secret")
}

func TestPostgresDSNQuotesCredentials(t *testing.T) {
	t.Parallel()

	s := conf.DatabaseSettings{
		Host:     "db",
		Port:     5432,
		Username: "lamp user",
		Password: `p@ss word'"=/`,
		Name:     "lampwatch",
		SSLMode:  "require",
	}
	u, err := url.Parse(postgresDSN(s))
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "lamp user", u.User.Username())
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, s.Password, pw)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/lampwatch", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

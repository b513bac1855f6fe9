package analysis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/errors"
)

func sqliteSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Database: conf.DatabaseSettings{
			Driver: conf.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "ledger.db"),
		},
	}
}

func TestInitDBSeedsOnlyEmptyTables(t *testing.T) {
	settings := sqliteSettings(t)

	n, err := InitDB(settings, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = InitDB(settings, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = InitDB(settings, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	store := datastore.New(settings.Database)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	events, err := store.CountEvents()
	require.NoError(t, err)
	assert.EqualValues(t, 2, events)

	state, err := store.CurrentLampState()
	require.NoError(t, err)
	assert.Equal(t, datastore.LampOn, state)
}

func TestInitDBRejectsUnknownDriver(t *testing.T) {
	settings := &conf.Settings{Database: conf.DatabaseSettings{Driver: "oracle"}}
	_, err := InitDB(settings, false)
	require.Error(t, err)
}

func TestServeFailsWhenImageDirectoryUnusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	settings := sqliteSettings(t)
	settings.Storage.Path = filepath.Join(blocker, "images")

	err := Serve(context.Background(), settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image directory")
}

func TestServeFailsWhenLedgerUnusable(t *testing.T) {
	settings := &conf.Settings{
		Storage:  conf.StorageSettings{Path: t.TempDir()},
		Database: conf.DatabaseSettings{Driver: conf.DriverSQLite},
	}

	err := Serve(context.Background(), settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger")
}

func TestOfflineDetector(t *testing.T) {
	d := offlineDetector{cause: fmt.Errorf("HOG object failed to initialize.")}

	require.EqualError(t, d.Ready(), "HOG object failed to initialize.")

	_, err := d.Decode([]byte("x"))
	assert.True(t, errors.IsCategory(err, errors.CategoryDetection))

	res, err := d.Detect(nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryDetection))
	assert.False(t, res.Detected())
}

func TestTraceResponseHandlesFailedRequests(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://admin:pw@cam.local/capture?token=x", http.NoBody)

	assert.NotPanics(t, func() {
		traceResponse(req, nil, fmt.Errorf("dial tcp: connection refused"))
		traceResponse(req, &http.Response{StatusCode: http.StatusOK}, nil)
	})
}

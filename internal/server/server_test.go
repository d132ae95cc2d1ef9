package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/glucose-api/internal/config"
	"github.com/sakif/glucose-api/internal/repository/memory"
	"github.com/sakif/glucose-api/internal/repository/sqlstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const batch = `[
  {"user_id":"u1","created_at":"2024-01-01T00:00:00Z","created_by":"exporter","device":"D","serial_number":"S",
   "device_timestamp":"2024-01-01T00:00","recording_type":"fasting","carbohydrates_grams":"50"},
  {"user_id":"u1","created_at":"2024-01-01T00:00:00Z","created_by":"exporter","device":"D","serial_number":"S",
   "device_timestamp":"2024-01-01T00:15","recording_type":"fasting"}
]`

func newTestServer(t *testing.T, pageSize int) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.PageSize = pageSize
	cfg.Storage.Driver = config.StorageMemory

	srv := NewWithStore(cfg, memory.New(), testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_LevelsRoundTrip(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, err := http.Post(ts.URL+"/levels", "application/json", strings.NewReader(batch))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/levels?user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Count   int     `json:"count"`
		Next    *string `json:"next"`
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, 2, page.Count)
	require.Len(t, page.Results, 1, "configured page size applies")
	require.NotNil(t, page.Next)

	// follow the absolute next link
	next, err := http.Get(*page.Next)
	require.NoError(t, err)
	defer next.Body.Close()
	assert.Equal(t, http.StatusOK, next.StatusCode)

	one, err := http.Get(ts.URL + "/levels/" + page.Results[0].ID)
	require.NoError(t, err)
	defer one.Body.Close()
	assert.Equal(t, http.StatusOK, one.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/levels", "application/json", strings.NewReader(batch))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `glucose_api_upserts_total{object="reading",outcome="created"} 2`)
	assert.Contains(t, string(body), `glucose_api_batch_items_total 2`)
	assert.Contains(t, string(body), `route="/healthz"`)
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/readings")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpenStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		store, err := OpenStore(config.Storage{Driver: config.StorageMemory})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite creates the directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "glucose.db")
		store, err := OpenStore(config.Storage{Driver: config.StorageSQLite, SQLitePath: path})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlstore.DB{}, store)
		assert.FileExists(t, path)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := OpenStore(config.Storage{Driver: "mongo"})
		assert.Error(t, err)
	})
}

package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db"
	"github.com/paperhtml/renderd/internal/lock"
	"github.com/paperhtml/renderd/internal/storage"
)

func testConfig(mediaRoot string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080", WebhookURLPrefix: "http://renderd:8080"},
		Render: config.RenderConfig{
			Image:               "engrafo",
			ExpiryTTL:           24 * time.Hour,
			SweepAge:            5 * time.Minute,
			ServeStaleOnFailure: true,
		},
		Storage: config.StorageConfig{Mode: config.StorageModeLocal, MediaRoot: mediaRoot},
	}
}

func TestBuildAndServe(t *testing.T) {
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database))

	dir := t.TempDir()
	a := Build(testConfig(dir), database, backend.NewFake(), storage.NewLocal(dir), lock.NewMemory())
	require.NotNil(t, a.Renders)
	require.NotNil(t, a.Reconciler)
	require.NotNil(t, a.Expiry)
	require.NotNil(t, a.Bulk)
	assert.Equal(t, 24*time.Hour, a.Expiry.TTL())
	assert.Equal(t, "http://renderd:8080/renders/5/update-state", a.Renders.WebhookURL(5))

	server := a.NewServer()
	resp, err := server.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = server.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.NoError(t, a.Close())
}

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func fakeElastic(t *testing.T, code int) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"version":{"number":"8.13.0"},"tagline":"You Know, for Search"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestCheckAllHealthy(t *testing.T) {
	_, client := newRedis(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	checker := NewHealthChecker(client, fakeElastic(t, http.StatusOK), dir)
	checker.UsageLimit = 101

	status := checker.CheckAll(context.Background())
	require.Len(t, status, 4)
	assert.Equal(t, StatusHealthy, status["redis"].Status)
	assert.Equal(t, StatusHealthy, status["elasticsearch"].Status)
	assert.Equal(t, StatusHealthy, status["model_store"].Status)
	assert.Equal(t, "1 artifacts", status["model_store"].Detail)
	assert.Equal(t, StatusHealthy, status["host"].Status)
	assert.True(t, checker.IsHealthy())
	assert.Equal(t, status, checker.GetStatus())
}

func TestCheckAllReportsFailures(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	checker := NewHealthChecker(client, fakeElastic(t, http.StatusInternalServerError), filepath.Join(t.TempDir(), "missing"))
	status := checker.CheckAll(context.Background())

	assert.Equal(t, StatusError, status["redis"].Status)
	assert.NotEmpty(t, status["redis"].Error)
	assert.Equal(t, StatusError, status["elasticsearch"].Status)
	assert.Equal(t, StatusHealthy, status["model_store"].Status)
	assert.Equal(t, "0 artifacts", status["model_store"].Detail)
	assert.False(t, checker.IsHealthy())
}

func TestElasticsearchDisabled(t *testing.T) {
	_, client := newRedis(t)
	checker := NewHealthChecker(client, nil, t.TempDir())
	checker.UsageLimit = 101

	status := checker.CheckAll(context.Background())
	assert.Equal(t, StatusDisabled, status["elasticsearch"].Status)
	assert.True(t, checker.IsHealthy())
}

func TestHostDegradedDoesNotFailHealth(t *testing.T) {
	_, client := newRedis(t)
	checker := NewHealthChecker(client, nil, t.TempDir())
	checker.UsageLimit = -1

	status := checker.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, status["host"].Status)
	assert.True(t, checker.IsHealthy())
}

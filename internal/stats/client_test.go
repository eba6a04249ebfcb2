package stats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchServers(t *testing.T) {
	body := `{
		"srv1": {"cpu": "50.0", "mem": "20", "mac": "00:00:00:00:00:0a", "ip": "10.0.0.10"},
		"srv2": {"cpu": 30, "mem": 10.5, "mac": "00:00:00:00:00:0b", "ip": "10.0.0.11"}
	}`
	srv, hits := newTestServer(t, http.StatusOK, body)

	client, err := NewHTTPClient(Config{URL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	snapshot, err := client.FetchServers(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	srv1 := snapshot["srv1"]
	assert.Equal(t, "srv1", srv1.ID)
	assert.Equal(t, 50.0, srv1.CPULoad)
	assert.Equal(t, 20.0, srv1.MemLoad)
	assert.Equal(t, "00:00:00:00:00:0a", srv1.MAC.String())
	assert.Equal(t, "10.0.0.10", srv1.IP.String())

	srv2 := snapshot["srv2"]
	assert.Equal(t, 30.0, srv2.CPULoad)
	assert.Equal(t, 10.5, srv2.MemLoad)

	// No caching: a second call goes back to the monitoring service
	_, err = client.FetchServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(hits))
}

func TestFetchServersEmptySnapshot(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)

	client, err := NewHTTPClient(Config{URL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	snapshot, err := client.FetchServers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestFetchServersFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "not JSON", status: http.StatusOK, body: `Too many requests`},
		{name: "JSON array", status: http.StatusOK, body: `[1, 2, 3]`},
		{name: "non numeric load", status: http.StatusOK, body: `{"s": {"cpu": "high", "mem": "1", "mac": "00:00:00:00:00:01", "ip": "10.0.0.1"}}`},
		{name: "boolean load", status: http.StatusOK, body: `{"s": {"cpu": true, "mem": "1", "mac": "00:00:00:00:00:01", "ip": "10.0.0.1"}}`},
		{name: "bad mac", status: http.StatusOK, body: `{"s": {"cpu": 1, "mem": 1, "mac": "nope", "ip": "10.0.0.1"}}`},
		{name: "EUI-64 mac", status: http.StatusOK, body: `{"s": {"cpu": 1, "mem": 1, "mac": "00:00:00:00:fe:80:00:00", "ip": "10.0.0.1"}}`},
		{name: "missing mem", status: http.StatusOK, body: `{"s": {"cpu": "90", "mac": "00:00:00:00:00:01", "ip": "10.0.0.1"}}`},
		{name: "missing cpu", status: http.StatusOK, body: `{"s": {"mem": "5", "mac": "00:00:00:00:00:01", "ip": "10.0.0.1"}}`},
		{name: "null mem", status: http.StatusOK, body: `{"s": {"cpu": 1, "mem": null, "mac": "00:00:00:00:00:01", "ip": "10.0.0.1"}}`},
		{name: "IPv6 address", status: http.StatusOK, body: `{"s": {"cpu": 1, "mem": 1, "mac": "00:00:00:00:00:01", "ip": "fe80::1"}}`},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)

			client, err := NewHTTPClient(Config{URL: srv.URL}, logger.NewNop())
			require.NoError(t, err)

			snapshot, err := client.FetchServers(context.Background())
			require.Error(t, err)
			assert.Nil(t, snapshot)
			assert.ErrorIs(t, err, cerrors.ErrStatsRetrieval)
		})
	}
}

func TestFetchServersUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewHTTPClient(Config{URL: url, Timeout: time.Second}, logger.NewNop())
	require.NoError(t, err)

	_, err = client.FetchServers(context.Background())
	assert.ErrorIs(t, err, cerrors.ErrStatsRetrieval)
}

func TestFetchServersRateLimited(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, `{}`)

	client, err := NewHTTPClient(Config{URL: srv.URL, MaxRequestsPerSecond: 0.001}, logger.NewNop())
	require.NoError(t, err)

	_, err = client.FetchServers(context.Background())
	require.NoError(t, err)

	// The bucket is empty and refills far beyond this deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.FetchServers(ctx)
	assert.ErrorIs(t, err, cerrors.ErrStatsRetrieval)
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
}

func TestNewHTTPClientRequiresURL(t *testing.T) {
	_, err := NewHTTPClient(Config{}, logger.NewNop())
	assert.ErrorIs(t, err, cerrors.ErrInvalidConfig)
}

func TestParseSnapshotRejectsServerWithoutMem(t *testing.T) {
	body := `{
		"busy": {"cpu": "90", "mac": "00:00:00:00:00:0a", "ip": "10.0.0.10"},
		"idle": {"cpu": "1", "mem": "5", "mac": "00:00:00:00:00:0b", "ip": "10.0.0.11"}
	}`

	snapshot, err := ParseSnapshot([]byte(body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Nil(t, snapshot)
}

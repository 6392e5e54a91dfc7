package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/sdko-org/opsedge/internal/cache"
	"github.com/sdko-org/opsedge/internal/devices"
	"github.com/sdko-org/opsedge/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingTransport struct {
	mu      sync.Mutex
	batched []activity.LogRecord
	singles []activity.LogRecord
}

func (c *collectingTransport) SendBatch(ctx context.Context, records []activity.LogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batched = append(c.batched, records...)
	return nil
}

func (c *collectingTransport) Send(ctx context.Context, record activity.LogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singles = append(c.singles, record)
	return nil
}

func (c *collectingTransport) batchedRecords() []activity.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]activity.LogRecord(nil), c.batched...)
}

func (c *collectingTransport) singleActions() []activity.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	var actions []activity.Action
	for _, rec := range c.singles {
		actions = append(actions, rec.Action)
	}
	return actions
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
}

func (s *stubFetcher) FetchStatus(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	switch id {
	case "ghost":
		return nil, fmt.Errorf("%w: %s", devices.ErrDeviceNotFound, id)
	case "flaky":
		return nil, errors.New("connection reset")
	}
	return []byte(fmt.Sprintf(`{"id":%q,"online":true}`, id)), nil
}

type testEnv struct {
	router    *mux.Router
	cache     *cache.SnapshotCache
	fetcher   *stubFetcher
	transport *collectingTransport
	recorder  *activity.Recorder
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := quietLogger()
	snapshotCache := cache.New(logger, storage.NewMemoryKV(), cache.Options{
		MaxAge:     15 * time.Minute,
		MaxSize:    1 << 20,
		MaxEntries: 50,
	})
	fetcher := &stubFetcher{}
	transport := &collectingTransport{}

	dispatcher := activity.NewDispatcher(logger, transport, 1, 8, time.Second)
	scheduler := activity.NewFlushScheduler(logger, transport, activity.SchedulerOptions{
		BatchSize:  10,
		BatchDelay: time.Hour,
	})
	recorder := activity.NewRecorder(logger, activity.NewSession(), activity.DefaultRouter(), dispatcher, scheduler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = recorder.Close(ctx)
	})

	h := NewHandler(logger, devices.NewSnapshots(logger, snapshotCache, fetcher), snapshotCache, recorder)
	r := mux.NewRouter()
	RegisterRoutes(r, h)

	return &testEnv{
		router:    r,
		cache:     snapshotCache,
		fetcher:   fetcher,
		transport: transport,
		recorder:  recorder,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("User-Agent", "dashboard-test")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestGetSnapshotMissThenHit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	first := env.do(http.MethodGet, "/v1/devices/cam-1/snapshot", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id":"cam-1","online":true}`, first.Body.String())

	second := env.do(http.MethodGet, "/v1/devices/cam-1/snapshot", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, 1, env.fetcher.calls)
}

func TestGetSnapshotErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/devices/ghost/snapshot", "").Code)
	assert.Equal(t, http.StatusBadGateway, env.do(http.MethodGet, "/v1/devices/flaky/snapshot", "").Code)
	assert.Equal(t, 0, env.cache.Stats().Count)
}

func TestCacheAdminEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(http.MethodGet, "/v1/devices/cam-1/snapshot", "")
	env.do(http.MethodGet, "/v1/devices/cam-2/snapshot", "")

	resp := env.do(http.MethodGet, "/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Count)

	resp = env.do(http.MethodPost, "/admin/cache/purge", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"removed":0}`, resp.Body.String())

	resp = env.do(http.MethodPost, "/admin/cache/clear", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, env.cache.Stats().Count)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/admin/cache/clear", "").Code)
}

func TestPostActivityQueuesUntilFlush(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/activity", `{"action":"view","category":"device","resource":"camera/4"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Empty(t, env.transport.batchedRecords())

	resp = env.do(http.MethodPost, "/admin/activity/flush", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"flushed":1}`, resp.Body.String())

	records := env.transport.batchedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, activity.ActionView, records[0].Action)
	assert.NotEmpty(t, records[0].ID)
}

func TestFlushActivityDeliversWhenClientAborts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		env.do(http.MethodPost, "/v1/activity", fmt.Sprintf(`{"action":"VIEW","resource":"camera/%d"}`, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/admin/activity/flush", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"flushed":5}`, resp.Body.String())
	assert.Len(t, env.transport.batchedRecords(), 5)
	assert.Equal(t, uint64(0), env.recorder.Stats().Scheduler.FallbackLost)
}

func TestPostActivityRejectsBadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/activity", `{"category":"device"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/activity", `not json`).Code)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodDelete, "/v1/session", "").Code)

	resp := env.do(http.MethodPost, "/v1/session", `{"id":"op-1","name":"Dana","email":"dana@example.com"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, env.recorder.Session().Active())

	env.do(http.MethodPost, "/v1/activity", `{"action":"EXPORT","category":"DATA","resource":"report/7"}`)

	resp = env.do(http.MethodDelete, "/v1/session", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"flushed":1}`, resp.Body.String())
	assert.False(t, env.recorder.Session().Active())

	records := env.transport.batchedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "op-1", records[0].ActorID)
	assert.Equal(t, "10.0.0.7", records[0].SourceAddress)
	assert.Equal(t, "dashboard-test", records[0].AgentString)

	require.Eventually(t, func() bool {
		return len(env.transport.singleActions()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []activity.Action{activity.ActionLogin, activity.ActionLogout}, env.transport.singleActions())
}

func TestActivityStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(http.MethodPost, "/v1/activity", `{"action":"VIEW"}`)

	resp := env.do(http.MethodGet, "/admin/activity/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats activity.RecorderStats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Queued)
	assert.Equal(t, 1, stats.Scheduler.Queued)
	assert.Equal(t, "armed", stats.Scheduler.State)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Hour)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.2:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "limits are per client")
}

func TestRateLimiterCleanupDropsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, time.Minute)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(2 * time.Minute)
	rl.allow("b")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, rl.cleanup())
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "b")
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.9"}, remote: "10.0.0.1:80", want: "198.51.100.9"},
		{name: "remote addr", remote: "192.0.2.44:9000", want: "192.0.2.44"},
		{name: "remote without port", remote: "192.0.2.45", want: "192.0.2.45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	logger := logrus.New()
	var buf strings.Builder
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &line))
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, float64(15), line["bytes"])
	assert.Equal(t, "/brew", line["path"])
}

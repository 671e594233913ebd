package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/authlog/internal/accesslog"
	"github.com/sdko-org/authlog/internal/auth"
	"github.com/sdko-org/authlog/internal/config"
	"github.com/sdko-org/authlog/internal/database"
	"github.com/sdko-org/authlog/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingWriter struct {
	mu   sync.Mutex
	recs []models.AccessLog
	err  error
}

func (w *recordingWriter) Write(_ context.Context, rec models.AccessLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.recs = append(w.recs, rec)
	return nil
}

func (w *recordingWriter) records() []models.AccessLog {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.AccessLog(nil), w.recs...)
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func authed(req *http.Request, id string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), &models.User{ID: id}))
}

func TestRouteSet(t *testing.T) {
	set := routeSet([]string{"/admin/users", "reports/", "{id}/edit", "/", "", "/search"})

	assert.Len(t, set, 3)
	assert.Contains(t, set, "admin")
	assert.Contains(t, set, "reports")
	assert.Contains(t, set, "search")
}

func TestAccessLogMiddleware(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name    string
		opts    AccessLogOptions
		method  string
		target  string
		user    string
		status  int
		want    bool
		wantRec models.AccessLog
	}{
		{
			name:   "logs matching route",
			opts:   AccessLogOptions{Routes: []string{"/admin"}},
			method: http.MethodGet, target: "/admin/users?page=2", user: "alice", status: http.StatusOK,
			want:    true,
			wantRec: models.AccessLog{Time: fixed.UTC(), UserID: "alice", RequestMethod: "GET", Path: "/admin/users", Response: 200},
		},
		{
			name:   "keeps query for query routes",
			opts:   AccessLogOptions{Routes: []string{"/admin"}, QueryRoutes: []string{"admin"}},
			method: http.MethodPost, target: "/admin/users?page=2", user: "alice", status: http.StatusCreated,
			want:    true,
			wantRec: models.AccessLog{Time: fixed.UTC(), UserID: "alice", RequestMethod: "POST", Path: "/admin/users?page=2", Response: 201},
		},
		{
			name:   "query route alone is not logged",
			opts:   AccessLogOptions{QueryRoutes: []string{"search"}},
			method: http.MethodGet, target: "/search?q=x", user: "alice", status: http.StatusOK,
		},
		{
			name:   "anonymous request is not logged",
			opts:   AccessLogOptions{Routes: []string{"admin"}},
			method: http.MethodGet, target: "/admin", status: http.StatusOK,
		},
		{
			name:   "other route is not logged",
			opts:   AccessLogOptions{Routes: []string{"admin"}},
			method: http.MethodGet, target: "/public/admin", user: "alice", status: http.StatusOK,
		},
		{
			name:   "status filter excludes",
			opts:   AccessLogOptions{Routes: []string{"admin"}, StatusCodes: []int{200, 404}},
			method: http.MethodGet, target: "/admin", user: "alice", status: http.StatusInternalServerError,
		},
		{
			name:   "status filter includes",
			opts:   AccessLogOptions{Routes: []string{"admin"}, StatusCodes: []int{200, 404}},
			method: http.MethodGet, target: "/admin", user: "alice", status: http.StatusNotFound,
			want:    true,
			wantRec: models.AccessLog{Time: fixed.UTC(), UserID: "alice", RequestMethod: "GET", Path: "/admin", Response: 404},
		},
		{
			name:   "no routes configured",
			opts:   AccessLogOptions{},
			method: http.MethodGet, target: "/admin", user: "alice", status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &recordingWriter{}
			m := NewAccessLogMiddleware(testLogger(), writer, tt.opts)
			m.now = func() time.Time { return fixed }

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.user != "" {
				req = authed(req, tt.user)
			}
			w := httptest.NewRecorder()
			m.Handler(statusHandler(tt.status)).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			recs := writer.records()
			if !tt.want {
				assert.Empty(t, recs)
				return
			}
			require.Len(t, recs, 1)
			assert.Equal(t, tt.wantRec, recs[0])
		})
	}
}

func TestAccessLogMiddlewareSwallowsWriteErrors(t *testing.T) {
	writer := &recordingWriter{err: accesslog.ErrStorageUnavailable}
	m := NewAccessLogMiddleware(testLogger(), writer, AccessLogOptions{Routes: []string{"admin"}})

	w := httptest.NewRecorder()
	m.Handler(statusHandler(http.StatusOK)).ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/admin", nil), "alice"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func TestAccessLogMiddlewareDeduplicatesThroughWriter(t *testing.T) {
	db := newTestDB(t)
	m := NewAccessLogMiddleware(testLogger(), accesslog.NewWriter(db), AccessLogOptions{Routes: []string{"reports"}})

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	h := m.Handler(statusHandler(http.StatusOK))

	for _, offset := range []time.Duration{0, 20 * time.Second, 59 * time.Second, 60 * time.Second, 61 * time.Second} {
		clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
		h.ServeHTTP(httptest.NewRecorder(), authed(httptest.NewRequest(http.MethodGet, "/reports/daily", nil), "alice"))
	}

	var n int64
	require.NoError(t, db.Model(&models.AccessLog{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	h := LoggingMiddleware(testLogger())(statusHandler(http.StatusTeapot))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(&config.Config{RateLimit: 2, RateLimitWindow: time.Hour})
	h := rl.Middleware(statusHandler(http.StatusOK))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	rl.evictIdle(time.Now().Add(time.Minute))
	assert.Empty(t, rl.clients)
}

func TestRateLimiterCleanupStops(t *testing.T) {
	rl := NewRateLimiter(&config.Config{RateLimit: 1, RateLimitWindow: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Cleanup(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(req))
}

var errBoom = errors.New("boom")

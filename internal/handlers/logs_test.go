package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/authlog/internal/accesslog"
	"github.com/sdko-org/authlog/internal/auth"
	"github.com/sdko-org/authlog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	got  accesslog.Filter
	rows []models.AccessLog
	err  error
}

func (f *fakeFinder) Find(_ context.Context, filter accesslog.Filter) ([]models.AccessLog, error) {
	f.got = filter
	return f.rows, f.err
}

func TestAccessLogHandlerList(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	finder := &fakeFinder{rows: []models.AccessLog{
		{Time: at, UserID: "alice", RequestMethod: "GET", Path: "/x", Response: 200},
	}}
	h := NewAccessLogHandler(testLogger(), finder)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet,
		"/access-logs?user_id=alice&method=GET&path=/x&response=200&limit=5&from=2024-03-01T00:00:00Z&to=2024-03-02T00:00:00Z", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, accesslog.Filter{
		UserID:        "alice",
		RequestMethod: "GET",
		Path:          "/x",
		Response:      200,
		Limit:         5,
		From:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:            time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}, finder.got)

	var body struct {
		Records []models.AccessLog `json:"records"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "alice", body.Records[0].UserID)
}

func TestAccessLogHandlerEmptyResult(t *testing.T) {
	h := NewAccessLogHandler(testLogger(), &fakeFinder{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/access-logs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records":[]}`, w.Body.String())
}

func TestAccessLogHandlerBadParams(t *testing.T) {
	h := NewAccessLogHandler(testLogger(), &fakeFinder{})

	for _, q := range []string{"response=ok", "limit=-1", "from=yesterday", "to=2024-03-01"} {
		t.Run(q, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/access-logs?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAccessLogHandlerStorageErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: find records: %w", accesslog.ErrStorageUnavailable, errBoom), http.StatusServiceUnavailable},
		{errBoom, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewAccessLogHandler(testLogger(), &fakeFinder{err: tt.err})
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/access-logs", nil))
		assert.Equal(t, tt.want, w.Code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, testLogger(), nil, NewAccessLogHandler(testLogger(), &fakeFinder{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/access-logs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/access-logs", nil)
	r.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), &models.User{ID: "alice"})))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWrapOrder(t *testing.T) {
	var calls []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(statusHandler(http.StatusNoContent), tag("outer"), tag("inner"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestWrappedRouterLogsUnmatchedRequests(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, testLogger(), nil, NewAccessLogHandler(testLogger(), &fakeFinder{}))

	writer := &recordingWriter{}
	accessLog := NewAccessLogMiddleware(testLogger(), writer, AccessLogOptions{Routes: []string{"access-logs"}})
	asAlice := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, authed(req, "alice"))
		})
	}
	h := Wrap(r, asAlice, accessLog.Handler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/access-logs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/access-logs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	require.Len(t, writer.recs, 2)
	assert.Equal(t, "/access-logs/nope", writer.recs[0].Path)
	assert.Equal(t, http.StatusNotFound, writer.recs[0].Response)
	assert.Equal(t, http.MethodPost, writer.recs[1].RequestMethod)
	assert.Equal(t, http.StatusMethodNotAllowed, writer.recs[1].Response)
}

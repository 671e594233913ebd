package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sdko-org/authlog/internal/accesslog"
	"github.com/sdko-org/authlog/internal/models"
	"github.com/sirupsen/logrus"
)

type AccessLogFinder interface {
	Find(ctx context.Context, f accesslog.Filter) ([]models.AccessLog, error)
}

// AccessLogHandler serves GET /access-logs.
type AccessLogHandler struct {
	finder AccessLogFinder
	log    *logrus.Entry
}

func NewAccessLogHandler(logger *logrus.Logger, finder AccessLogFinder) *AccessLogHandler {
	return &AccessLogHandler{
		finder: finder,
		log:    logger.WithField("component", "access_log_handler"),
	}
}

func (h *AccessLogHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.finder.Find(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("Access log query failed")
		status := http.StatusInternalServerError
		if errors.Is(err, accesslog.ErrStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(h.log, w, status, "access log query failed")
		return
	}
	if rows == nil {
		rows = []models.AccessLog{}
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"records": rows,
	})
}

func parseFilter(r *http.Request) (accesslog.Filter, error) {
	q := r.URL.Query()
	f := accesslog.Filter{
		UserID:        q.Get("user_id"),
		RequestMethod: q.Get("method"),
		Path:          q.Get("path"),
	}

	var err error
	if v := q.Get("response"); v != "" {
		if f.Response, err = strconv.Atoi(v); err != nil {
			return f, errors.New("response must be an integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
	}
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("from must be an RFC 3339 timestamp")
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("to must be an RFC 3339 timestamp")
		}
	}
	return f, nil
}

package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/authlog/internal/auth"
	"github.com/sdko-org/authlog/internal/config"
	"github.com/sdko-org/authlog/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				logEntry.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   time.Since(start),
					"client_ip":  getClientIP(r),
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}).Info("Request processed")
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

// AccessLogWriter persists one access-log record per completed request.
type AccessLogWriter interface {
	Write(ctx context.Context, rec models.AccessLog) error
}

type AccessLogOptions struct {
	// Routes and QueryRoutes are matched on the first path segment only.
	Routes      []string
	QueryRoutes []string
	// StatusCodes limits logging to these codes; empty logs every code.
	StatusCodes []int
}

// AccessLogMiddleware records authenticated requests to configured routes.
type AccessLogMiddleware struct {
	writer      AccessLogWriter
	routes      map[string]struct{}
	queryRoutes map[string]struct{}
	statusCodes map[int]struct{}
	log         *logrus.Entry
	now         func() time.Time
}

func NewAccessLogMiddleware(logger *logrus.Logger, writer AccessLogWriter, opts AccessLogOptions) *AccessLogMiddleware {
	m := &AccessLogMiddleware{
		writer:      writer,
		routes:      routeSet(opts.Routes),
		queryRoutes: routeSet(opts.QueryRoutes),
		statusCodes: make(map[int]struct{}, len(opts.StatusCodes)),
		log:         logger.WithField("component", "access_log"),
		now:         time.Now,
	}
	for _, code := range opts.StatusCodes {
		m.statusCodes[code] = struct{}{}
	}
	return m
}

func (m *AccessLogMiddleware) Handler(next http.Handler) http.Handler {
	if len(m.routes) == 0 && len(m.queryRoutes) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		logRoute, withQuery := m.matchRoute(r.URL.Path)
		if !ok || !logRoute {
			next.ServeHTTP(w, r)
			return
		}

		start := m.now().UTC()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		if len(m.statusCodes) > 0 {
			if _, ok := m.statusCodes[lrw.statusCode]; !ok {
				return
			}
		}

		path := r.URL.Path
		if withQuery && r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		rec := models.AccessLog{
			Time:          start,
			UserID:        user.ID,
			RequestMethod: r.Method,
			Path:          path,
			Response:      lrw.statusCode,
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		defer cancel()
		if err := m.writer.Write(ctx, rec); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"user_id": rec.UserID,
				"method":  rec.RequestMethod,
				"path":    rec.Path,
				"status":  rec.Response,
			}).Warn("Failed to save access log")
		}
	})
}

// matchRoute reports whether path is logged and whether its query is kept.
func (m *AccessLogMiddleware) matchRoute(path string) (bool, bool) {
	segment, _, _ := strings.Cut(strings.Trim(path, "/"), "/")
	_, logged := m.routes[segment]
	_, withQuery := m.queryRoutes[segment]
	return logged, withQuery
}

func routeSet(routes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		segment, _, _ := strings.Cut(strings.Trim(r, "/"), "/")
		if segment == "" || (strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")) {
			continue
		}
		set[segment] = struct{}{}
	}
	return set
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.RateLimit) / cfg.RateLimitWindow.Seconds()),
		burst:   cfg.RateLimit,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(getClientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	cl, exists := rl.clients[clientIP]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = cl
	}
	cl.lastSeen = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Cleanup drops clients idle for three minutes until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now().Add(-3 * time.Minute))
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(before time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, client := range rl.clients {
		if client.lastSeen.Before(before) {
			delete(rl.clients, ip)
		}
	}
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}

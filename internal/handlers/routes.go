package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sdko-org/authlog/internal/auth"
	"github.com/sirupsen/logrus"
)

// RegisterRoutes mounts the login flow (when configured) and the access log API.
func RegisterRoutes(r *mux.Router, logger *logrus.Logger, ah *auth.Handlers, lh *AccessLogHandler) {
	r.HandleFunc("/healthz", HandleHealth(logger)).Methods("GET")
	if ah != nil {
		r.HandleFunc("/login", ah.Login).Methods("GET")
		r.HandleFunc("/login/auth", ah.Callback).Methods("GET").Name("auth")
		r.HandleFunc("/logout", ah.Logout).Methods("GET")
	}
	r.Handle("/access-logs", auth.RequireUser(http.HandlerFunc(lh.List))).Methods("GET")
}

// Wrap applies middleware around h, first one outermost. Unlike Router.Use,
// the chain also sees requests the router answers with 404 or 405.
func Wrap(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// writeJSON sends v with the given status. Headers are already out when the
// body fails to encode, so the error can only be logged.
func writeJSON(log *logrus.Entry, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithField("status", status).Warn("Failed to write JSON response")
	}
}

func writeError(log *logrus.Entry, w http.ResponseWriter, status int, message string) {
	writeJSON(log, w, status, map[string]interface{}{
		"code":    status,
		"message": message,
	})
}

func HandleHealth(logger *logrus.Logger) http.HandlerFunc {
	log := logger.WithField("component", "health")
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(log, w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Package handlers exposes the services as Cloud Functions entry points.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/fiscallens/internal/gcp"
)

const defaultUserIDHeader = "X-User-Id"

// userIDHeader names the header the upstream gateway fills with the verified user id.
func userIDHeader() string {
	return gcp.GetEnv("USER_ID_HEADER", defaultUserIDHeader)
}

func userID(r *http.Request, header string) string {
	return strings.TrimSpace(r.Header.Get(header))
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

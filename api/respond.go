package api

import (
	"encoding/json"
	"net/http"

	"log/slog"
)

// errorResponse is the error body shared by every endpoint.
type errorResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   map[string]any `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// writeError sends the error envelope. err, when set, is exposed as
// error.details.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	details := map[string]any{}
	if err != nil {
		details["details"] = err.Error()
	}
	writeJSON(w, status, errorResponse{Success: false, Message: message, Error: details})
}

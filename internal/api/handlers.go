package api

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/santehsupply/orders-api/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "0.1.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithAppError maps a service error onto its HTTP status. Server
// faults get a generic message so internals never reach the client.
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	code := apperrors.StatusCode(err)

	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		message = "service temporarily unavailable"
	}

	s.respondWithError(w, code, message)
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

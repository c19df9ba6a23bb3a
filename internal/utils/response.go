package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-flashpromo/internal/apperr"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message string, err error) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     err.Error(),
		ErrorKind: apperr.Kind(err),
		Timestamp: time.Now().UTC(),
	}
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// WriteError answers with the status err classifies to.
func WriteError(w http.ResponseWriter, message string, err error) error {
	return WriteJSON(w, apperr.HTTPStatus(err), ErrorResponse(message, err))
}

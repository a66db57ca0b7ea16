package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// mapServiceError maps service errors to HTTP status codes. Categorized
// errors carry their own status code; everything else is a 500 with the
// cause hidden from the client.
func mapServiceError(err error) (int, string, string) {
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		statusCode := catErr.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		return statusCode, catErr.Code, catErr.Message
	}

	return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
}

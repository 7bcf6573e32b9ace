package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON error envelope returned on API paths.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ValidationBody extends ErrorBody with per-field messages.
type ValidationBody struct {
	ErrorBody
	Fields map[string][]string `json:"fields"`
}

// NewErrorBody builds the envelope for status, using the default message when
// message is empty.
func NewErrorBody(status int, message string) ErrorBody {
	if message == "" {
		message = DefaultMessage(status)
	}
	return ErrorBody{Error: http.StatusText(status), Message: message, Status: status}
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

package httphandler

import (
	"encoding/json"
	"net/http"
)

// Error types used in API error bodies. Clients built against the OpenAI SDK
// surface these directly, so the vocabulary matches what they expect.
const (
	errTypeAuthentication = "authentication_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeInvalidRequest = "invalid_request_error"
	errTypeServer         = "server_error"
	errTypeTimeout        = "timeout_error"
	errTypeProxy          = "proxy_error"
)

// apiError is the OpenAI-compatible error body: the detail rides under an
// "error" object with message and type, param and code always null.
type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"internal server error","type":"server_error","param":null,"code":null}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes an OpenAI-shaped error body with the given status,
// error type, and message.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, apiError{Error: apiErrorDetail{Message: message, Type: errType}})
}

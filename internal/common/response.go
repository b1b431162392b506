package common

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const encodeFailure = `{"error":{"code":"INTERNAL","message":"response could not be encoded"}}`

// JSON writes v as the response body. v is encoded before any header is
// sent, so an unencodable value yields a clean 500 instead of a truncated body.
func JSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status, body = http.StatusInternalServerError, []byte(encodeFailure)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// JSONError renders {"error":{"code","message","details"}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message, Details: details},
	})
}

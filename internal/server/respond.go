package server

import (
	"encoding/json"
	"net/http"

	"apirelay/internal/errdef"
)

const (
	msgMethodNotAllowed = "Method not allowed"
	msgInvalidJSONBody  = "Invalid JSON body"
	msgUnauthorized     = "Unauthorized"
	msgTooManyRequests  = "Too many requests"
	msgInternal         = "Internal error"
)

// errorBody is the failure shape shared with the relay envelope.
type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Tab   string `json:"tab,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// respondErr maps err to a status. Internal causes are never exposed.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(errdef.CodeOf(err))
	msg := errdef.MessageOf(err)
	if status >= http.StatusInternalServerError {
		msg = msgInternal
	}
	respondError(w, status, msg)
}

// statusFor maps an error code to its HTTP status.
func statusFor(code errdef.Code) int {
	switch code {
	case errdef.CodeInvalidMethod, errdef.CodeInvalidURL, errdef.CodeInvalidJSON,
		errdef.CodeInvalidInput, errdef.CodeInvalidUser:
		return http.StatusBadRequest
	case errdef.CodeUnauthorized:
		return http.StatusUnauthorized
	case errdef.CodeHostNotAllowed:
		return http.StatusForbidden
	case errdef.CodeNotFound:
		return http.StatusNotFound
	case errdef.CodeBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case errdef.CodeRateLimited:
		return http.StatusTooManyRequests
	case errdef.CodeUpstream, errdef.CodeResponseTooLarge:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

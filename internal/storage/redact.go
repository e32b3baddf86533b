package storage

import (
	"strings"

	"apirelay/internal/model"
)

// Redacted replaces credential values in stored history.
const Redacted = "[REDACTED]"

// sensitiveHeaders are redacted before a request is written to history.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,

	"cookie":       true,
	"x-api-key":    true,
	"api-key":      true,
	"x-auth-token": true,
	"x-csrf-token": true,
	"x-xsrf-token": true,

	"x-amz-security-token": true,
	"x-amz-credential":     true,
	"x-amz-signature":      true,

	"x-access-token":  true,
	"x-refresh-token": true,
	"x-session-token": true,
	"x-secret-key":    true,
	"x-private-key":   true,
}

// IsSensitiveHeader reports whether values of name are redacted in history.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(strings.TrimSpace(name))]
}

// Redact returns a copy of req with header credentials and auth secrets
// replaced by Redacted. req is not modified.
func Redact(req model.PostmanRequest) model.PostmanRequest {
	out := req.Clone()
	for i, h := range out.Headers {
		if IsSensitiveHeader(h.Key) {
			out.Headers[i].Value = Redacted
		}
	}
	switch a := out.Auth.(type) {
	case model.BearerAuth:
		if a.Token != "" {
			out.Auth = model.BearerAuth{Token: Redacted}
		}
	case model.APIKeyAuth:
		if a.KeyValue != "" {
			a.KeyValue = Redacted
			out.Auth = a
		}
	}
	return out
}

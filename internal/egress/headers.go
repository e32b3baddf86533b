package egress

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// blockedHeaders are hop-by-hop or transport-owned headers a caller may
// not set on the forwarded request.
var blockedHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"upgrade":           true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"content-length":    true,
}

// IsBlockedHeader reports whether name may never be forwarded.
func IsBlockedHeader(name string) bool {
	return blockedHeaders[strings.ToLower(strings.TrimSpace(name))]
}

// SanitizeHeaders returns a copy of raw without blocked, empty or
// injection-prone entries. Unsafe entries are dropped, never rejected.
// Keys come back in canonical form.
func SanitizeHeaders(raw map[string]string) map[string]string {
	clean := make(map[string]string, len(raw))
	for k, v := range raw {
		if keep(k, v) {
			clean[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))] = v
		}
	}
	return clean
}

// SanitizeAny is SanitizeHeaders for loosely typed JSON input: scalar
// values are coerced to strings, nulls and nested values are dropped.
func SanitizeAny(raw map[string]any) map[string]string {
	clean := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := coerce(v)
		if !ok {
			continue
		}
		if keep(k, s) {
			clean[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))] = s
		}
	}
	return clean
}

func keep(k, v string) bool {
	key := strings.TrimSpace(k)
	if key == "" {
		return false
	}
	if strings.ContainsAny(k, "\r\n") || strings.ContainsAny(v, "\r\n") {
		return false
	}
	if blockedHeaders[strings.ToLower(key)] {
		return false
	}
	return httpguts.ValidHeaderFieldName(key) && httpguts.ValidHeaderFieldValue(v)
}

func coerce(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

// Package jsonbody validates and pretty-prints request and response bodies.
package jsonbody

import (
	"bytes"
	"encoding/json"
	"strings"

	"apirelay/internal/errdef"
)

// Indent is the indentation used by Format.
const Indent = "  "

// IsBlank reports whether text means "no body".
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Validate accepts an empty body or any single JSON value. The error
// message is the decoder's own message.
func Validate(text string) error {
	if IsBlank(text) {
		return nil
	}
	if err := check(text); err != nil {
		return errdef.Wrap(err, errdef.CodeInvalidJSON, err.Error())
	}
	return nil
}

// Format re-serializes text with stable two-space indentation. Object key
// order is preserved, so Format is idempotent.
func Format(text string) (string, error) {
	if IsBlank(text) {
		return "", nil
	}
	if err := check(text); err != nil {
		return "", errdef.Wrap(err, errdef.CodeInvalidJSON, err.Error())
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(strings.TrimSpace(text)), "", Indent); err != nil {
		return "", errdef.Wrap(err, errdef.CodeInvalidJSON, err.Error())
	}
	return out.String(), nil
}

// Pretty formats text when it is JSON and returns it unchanged otherwise.
func Pretty(text string) string {
	out, err := Format(text)
	if err != nil || out == "" {
		return text
	}
	return out
}

// check rejects anything but exactly one JSON value.
func check(text string) error {
	var v json.RawMessage
	return json.Unmarshal([]byte(text), &v)
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// HeaderField is one response header line.
type HeaderField struct {
	Name  string
	Value string
}

// HeaderList keeps headers in the order the relay received them and
// serializes as a JSON object whose keys follow that order.
type HeaderList []HeaderField

// Get returns the first value for name, matched case-insensitively.
func (h HeaderList) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h HeaderList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (h *HeaderList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*h = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("headers: expected object, got %v", tok)
	}
	out := HeaderList{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("headers: expected string key, got %v", kt)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("headers: value for %q: %w", key, err)
		}
		out = append(out, HeaderField{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}

// Envelope is the normalized relay response. A success carries the upstream
// status, headers and raw body text; a failure carries only Error and,
// when an upstream call was attempted, the elapsed time.
type Envelope struct {
	OK         bool
	Status     int
	StatusText string
	Headers    HeaderList
	BodyText   string
	TimeMs     int64
	IsJSON     bool

	Error string
	// Timed marks a failure that happened after the upstream call started.
	Timed bool
}

// Failure builds an error envelope without timing.
func Failure(msg string) *Envelope {
	return &Envelope{Error: msg}
}

// TimedFailure builds an error envelope that reports elapsed time.
func TimedFailure(msg string, ms int64) *Envelope {
	return &Envelope{Error: msg, TimeMs: ms, Timed: true}
}

type successWire struct {
	OK         bool       `json:"ok"`
	Status     int        `json:"status"`
	StatusText string     `json:"statusText"`
	Headers    HeaderList `json:"headers"`
	BodyText   string     `json:"bodyText"`
	TimeMs     int64      `json:"timeMs"`
	IsJSON     bool       `json:"isJson"`
}

type failureWire struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	TimeMs *int64 `json:"timeMs,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.OK {
		headers := e.Headers
		if headers == nil {
			headers = HeaderList{}
		}
		return json.Marshal(successWire{
			OK:         true,
			Status:     e.Status,
			StatusText: e.StatusText,
			Headers:    headers,
			BodyText:   e.BodyText,
			TimeMs:     e.TimeMs,
			IsJSON:     e.IsJSON,
		})
	}
	w := failureWire{Error: e.Error}
	if e.Timed {
		ms := e.TimeMs
		w.TimeMs = &ms
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var probe struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.OK {
		var w successWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Envelope{
			OK:         true,
			Status:     w.Status,
			StatusText: w.StatusText,
			Headers:    w.Headers,
			BodyText:   w.BodyText,
			TimeMs:     w.TimeMs,
			IsJSON:     w.IsJSON,
		}
		return nil
	}
	var w failureWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{Error: w.Error}
	if w.TimeMs != nil {
		e.TimeMs = *w.TimeMs
		e.Timed = true
	}
	return nil
}

package model

import (
	"time"
)

// Methods the relay and the console accept, in display order.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// IsMethod reports whether m is one of the five supported verbs.
func IsMethod(m string) bool {
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}

// ProxyRequest is the structured description the relay accepts on POST /api/proxy.
type ProxyRequest struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	BodyText *string           `json:"bodyText,omitempty"`
}

// Body returns the body text, or "" when absent.
func (r ProxyRequest) Body() string {
	if r.BodyText == nil {
		return ""
	}
	return *r.BodyText
}

// KeyValue is one editable row in the params or headers table.
type KeyValue struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// PostmanRequest is the user-editable request held by the console.
type PostmanRequest struct {
	Method   string     `json:"method"`
	URL      string     `json:"url"`
	Params   []KeyValue `json:"params"`
	Headers  []KeyValue `json:"headers"`
	Auth     Auth       `json:"-"`
	BodyText string     `json:"bodyText"`
}

// NewPostmanRequest returns an empty GET request with no auth.
func NewPostmanRequest() PostmanRequest {
	return PostmanRequest{
		Method:  "GET",
		Params:  []KeyValue{},
		Headers: []KeyValue{},
		Auth:    NoAuth{},
	}
}

// Clone returns a deep copy so snapshots are not aliased by later edits.
func (r PostmanRequest) Clone() PostmanRequest {
	out := r
	out.Params = append([]KeyValue{}, r.Params...)
	out.Headers = append([]KeyValue{}, r.Headers...)
	if out.Auth == nil {
		out.Auth = NoAuth{}
	}
	return out
}

// ResponseSummary is the slice of an envelope kept in history.
type ResponseSummary struct {
	Status int   `json:"status"`
	OK     bool  `json:"ok"`
	TimeMs int64 `json:"timeMs"`
}

// SummaryOf extracts the history summary from an envelope.
func SummaryOf(env *Envelope) ResponseSummary {
	if env == nil {
		return ResponseSummary{}
	}
	return ResponseSummary{Status: env.Status, OK: env.OK, TimeMs: env.TimeMs}
}

// HistoryItem is one executed request.
type HistoryItem struct {
	ID              string          `json:"id"`
	Request         PostmanRequest  `json:"request"`
	ResponseSummary ResponseSummary `json:"responseSummary"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SavedItem is a named request kept until the user deletes it.
type SavedItem struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Request   PostmanRequest `json:"request"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

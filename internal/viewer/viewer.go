// Package viewer turns a relay envelope into what the console shows: the
// body, an optional sandboxed preview of embedded HTML, an optional parsed
// table scraped from that HTML, and the headers. Building a view is pure
// and never executes markup.
package viewer

import (
	"encoding/json"
	"html"
	"strings"

	"apirelay/internal/jsonbody"
	"apirelay/internal/model"
)

// Tab is a response tab.
type Tab string

const (
	TabBody    Tab = "body"
	TabPreview Tab = "preview"
	TabParsed  Tab = "parsed"
	TabHeaders Tab = "headers"
)

// ParseTab accepts a tab name, defaulting to body.
func ParseTab(s string) Tab {
	switch t := Tab(strings.ToLower(strings.TrimSpace(s))); t {
	case TabPreview, TabParsed, TabHeaders:
		return t
	default:
		return TabBody
	}
}

// Preview is embedded HTML made safe to display.
type Preview struct {
	// HTML is the sanitized markup.
	HTML string `json:"html"`
	// IFrame renders HTML through srcdoc in an iframe whose empty sandbox
	// attribute disables scripts, forms and same-origin access.
	IFrame string `json:"iframe"`
}

// Field is one labelled segment of an info block, in document order.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Row is one hadith with its info block.
type Row struct {
	Text     string            `json:"text"`
	Narrator string            `json:"narrator,omitempty"`
	Scholar  string            `json:"scholar,omitempty"`
	Source   string            `json:"source,omitempty"`
	Page     string            `json:"page,omitempty"`
	Grade    string            `json:"grade,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Fields   []Field           `json:"fields"`
}

// View is the rendered state of the response panel.
type View struct {
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	TimeMs     int64            `json:"timeMs"`
	Status     int              `json:"status,omitempty"`
	StatusText string           `json:"statusText,omitempty"`
	IsJSON     bool             `json:"isJson"`
	Body       string           `json:"body"`
	Headers    model.HeaderList `json:"headers"`
	// HeaderCount feeds the badge on the headers tab.
	HeaderCount int      `json:"headerCount"`
	Preview     *Preview `json:"preview,omitempty"`
	Parsed      []Row    `json:"parsed,omitempty"`
	Tabs        []Tab    `json:"tabs"`
	ActiveTab   Tab      `json:"activeTab"`
}

// Has reports whether tab t is available.
func (v *View) Has(t Tab) bool {
	for _, x := range v.Tabs {
		if x == t {
			return true
		}
	}
	return false
}

// Renderer builds views with an injected DOM.
type Renderer struct {
	dom DOM
}

func New(dom DOM) *Renderer {
	if dom == nil {
		dom = HTMLDOM{}
	}
	return &Renderer{dom: dom}
}

var defaultRenderer = New(HTMLDOM{})

// Build renders env with the default DOM. prev is the tab that was
// selected before this response arrived.
func Build(env *model.Envelope, prev Tab) *View {
	return defaultRenderer.Build(env, prev)
}

func (r *Renderer) Build(env *model.Envelope, prev Tab) *View {
	if env == nil {
		env = model.Failure("no response")
	}
	if !env.OK {
		return &View{
			Error:     env.Error,
			TimeMs:    env.TimeMs,
			Headers:   model.HeaderList{},
			Tabs:      []Tab{},
			ActiveTab: nextTab(prev, false),
		}
	}

	headers := env.Headers
	if headers == nil {
		headers = model.HeaderList{}
	}
	v := &View{
		OK:          true,
		TimeMs:      env.TimeMs,
		Status:      env.Status,
		StatusText:  env.StatusText,
		IsJSON:      env.IsJSON,
		Body:        env.BodyText,
		Headers:     headers,
		HeaderCount: len(headers),
		Tabs:        []Tab{TabBody},
	}
	if env.IsJSON {
		v.Body = jsonbody.Pretty(env.BodyText)
	}

	if embedded, ok := EmbeddedHTML(env.BodyText); ok {
		if p, rows, err := r.render(embedded); err == nil {
			v.Preview = p
			v.Tabs = append(v.Tabs, TabPreview)
			if len(rows) > 0 {
				v.Parsed = rows
				v.Tabs = append(v.Tabs, TabParsed)
			}
		}
	}
	v.Tabs = append(v.Tabs, TabHeaders)
	v.ActiveTab = nextTab(prev, v.Preview != nil)
	return v
}

// nextTab applies the auto-switch rules: a preview always takes focus;
// without one, a stale preview or parsed selection falls back to body.
func nextTab(prev Tab, hasPreview bool) Tab {
	if hasPreview {
		return TabPreview
	}
	switch prev {
	case TabHeaders:
		return TabHeaders
	default:
		return TabBody
	}
}

// EmbeddedHTML extracts the ahadith.result string from a JSON body.
func EmbeddedHTML(body string) (string, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return "", false
	}
	var ahadith map[string]json.RawMessage
	if err := json.Unmarshal(top["ahadith"], &ahadith); err != nil {
		return "", false
	}
	var result string
	if err := json.Unmarshal(ahadith["result"], &result); err != nil {
		return "", false
	}
	if strings.TrimSpace(result) == "" {
		return "", false
	}
	return result, true
}

func (r *Renderer) render(fragment string) (*Preview, []Row, error) {
	root, err := r.dom.Parse(fragment)
	if err != nil {
		return nil, nil, err
	}
	Sanitize(root)
	clean, err := innerHTML(root)
	if err != nil {
		return nil, nil, err
	}
	return &Preview{HTML: clean, IFrame: IFrame(clean)}, r.extract(root), nil
}

// IFrame wraps markup in a fully sandboxed iframe.
func IFrame(markup string) string {
	return `<iframe sandbox="" referrerpolicy="no-referrer" title="Preview" srcdoc="` + html.EscapeString(markup) + `"></iframe>`
}

// Package console holds the request builder behind the developer console.
// A Builder owns one editable request and turns it into a relay descriptor
// at send time.
package console

import (
	"context"
	"fmt"
	"net/textproto"
	"net/url"
	"strings"

	"apirelay/internal/egress"
	"apirelay/internal/errdef"
	"apirelay/internal/jsonbody"
	"apirelay/internal/model"
)

// Tab is an editor tab of the builder.
type Tab string

const (
	TabParams  Tab = "params"
	TabHeaders Tab = "headers"
	TabAuth    Tab = "auth"
	TabBody    Tab = "body"
)

// Sender delivers a descriptor to a relay, in-process or remote.
type Sender interface {
	Send(ctx context.Context, req model.ProxyRequest) (*model.Envelope, error)
}

// Builder is not safe for concurrent use.
type Builder struct {
	policy  *egress.Policy
	req     model.PostmanRequest
	urlErr  error
	bodyErr error
	tab     Tab
}

// NewBuilder returns a builder holding an empty GET request.
func NewBuilder(policy *egress.Policy) *Builder {
	b := &Builder{policy: policy, tab: TabParams}
	b.Load(model.NewPostmanRequest())
	return b
}

// Methods lists the selectable verbs.
func (b *Builder) Methods() []string {
	return append([]string(nil), model.Methods...)
}

func (b *Builder) SetMethod(m string) error {
	if !model.IsMethod(m) {
		return errdef.Newf(errdef.CodeInvalidMethod, "method %q is not one of %s", m, strings.Join(model.Methods, ", "))
	}
	b.req.Method = m
	return nil
}

// SetURL stores s and validates it immediately.
func (b *Builder) SetURL(s string) {
	b.req.URL = s
	b.urlErr = b.policy.ValidateURL(s)
}

// URLError describes why the current URL is rejected, or "".
func (b *Builder) URLError() string {
	if b.urlErr == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s)", errdef.MessageOf(b.urlErr), egress.Reason(b.urlErr))
}

// CanSend reports whether both the URL and the body currently validate.
func (b *Builder) CanSend() bool {
	return b.urlErr == nil && jsonbody.Validate(b.req.BodyText) == nil
}

// =============================================================================
// Params and headers
// =============================================================================

func (b *Builder) Params() []model.KeyValue  { return append([]model.KeyValue(nil), b.req.Params...) }
func (b *Builder) Headers() []model.KeyValue { return append([]model.KeyValue(nil), b.req.Headers...) }

// AddParam appends an enabled row and returns its index.
func (b *Builder) AddParam(key, value string) int {
	b.req.Params = append(b.req.Params, model.KeyValue{Key: key, Value: value, Enabled: true})
	return len(b.req.Params) - 1
}

func (b *Builder) SetParam(i int, key, value string) error {
	return setRow(b.req.Params, i, key, value)
}

// ToggleParam flips a row without deleting it.
func (b *Builder) ToggleParam(i int) error {
	return toggleRow(b.req.Params, i)
}

func (b *Builder) RemoveParam(i int) error {
	rows, err := removeRow(b.req.Params, i)
	if err != nil {
		return err
	}
	b.req.Params = rows
	return nil
}

func (b *Builder) AddHeader(key, value string) int {
	b.req.Headers = append(b.req.Headers, model.KeyValue{Key: key, Value: value, Enabled: true})
	return len(b.req.Headers) - 1
}

func (b *Builder) SetHeader(i int, key, value string) error {
	return setRow(b.req.Headers, i, key, value)
}

func (b *Builder) ToggleHeader(i int) error {
	return toggleRow(b.req.Headers, i)
}

func (b *Builder) RemoveHeader(i int) error {
	rows, err := removeRow(b.req.Headers, i)
	if err != nil {
		return err
	}
	b.req.Headers = rows
	return nil
}

func rowErr(i, n int) error {
	return errdef.Newf(errdef.CodeInvalidInput, "row %d out of range (%d rows)", i, n)
}

func setRow(rows []model.KeyValue, i int, key, value string) error {
	if i < 0 || i >= len(rows) {
		return rowErr(i, len(rows))
	}
	rows[i].Key = key
	rows[i].Value = value
	return nil
}

func toggleRow(rows []model.KeyValue, i int) error {
	if i < 0 || i >= len(rows) {
		return rowErr(i, len(rows))
	}
	rows[i].Enabled = !rows[i].Enabled
	return nil
}

func removeRow(rows []model.KeyValue, i int) ([]model.KeyValue, error) {
	if i < 0 || i >= len(rows) {
		return rows, rowErr(i, len(rows))
	}
	return append(rows[:i:i], rows[i+1:]...), nil
}

// =============================================================================
// Auth and body
// =============================================================================

func (b *Builder) SetAuth(a model.Auth) {
	if a == nil {
		a = model.NoAuth{}
	}
	b.req.Auth = a
}

func (b *Builder) Auth() model.Auth { return b.req.Auth }

// SetBody replaces the body text and clears any stale body error.
func (b *Builder) SetBody(text string) {
	b.req.BodyText = text
	b.bodyErr = nil
}

func (b *Builder) Body() string { return b.req.BodyText }

// FormatBody re-indents the body in place. On failure the body is left
// untouched and the error is kept for display.
func (b *Builder) FormatBody() error {
	out, err := jsonbody.Format(b.req.BodyText)
	if err != nil {
		b.bodyErr = err
		return err
	}
	b.req.BodyText = out
	b.bodyErr = nil
	return nil
}

// ValidateBody checks the body and keeps the result for display.
func (b *Builder) ValidateBody() error {
	b.bodyErr = jsonbody.Validate(b.req.BodyText)
	return b.bodyErr
}

// BodyError is the parser message of the last failed check, or "".
func (b *Builder) BodyError() string {
	if b.bodyErr == nil {
		return ""
	}
	return errdef.MessageOf(b.bodyErr)
}

func (b *Builder) ActiveTab() Tab { return b.tab }

func (b *Builder) SetTab(t Tab) error {
	switch t {
	case TabParams, TabHeaders, TabAuth, TabBody:
		b.tab = t
		return nil
	default:
		return errdef.Newf(errdef.CodeInvalidInput, "unknown tab %q", t)
	}
}

// =============================================================================
// Materialization
// =============================================================================

// Descriptor materializes the request: enabled params and an api key in the
// query go onto the URL, enabled headers and header auth into the header
// map. A GET never carries a body.
func (b *Builder) Descriptor() (model.ProxyRequest, error) {
	if err := b.policy.ValidateURL(b.req.URL); err != nil {
		return model.ProxyRequest{}, err
	}
	if err := jsonbody.Validate(b.req.BodyText); err != nil {
		return model.ProxyRequest{}, err
	}
	return Materialize(b.req), nil
}

// Materialize converts req without validating it.
func Materialize(req model.PostmanRequest) model.ProxyRequest {
	var query []string
	for _, p := range req.Params {
		if !p.Enabled || strings.TrimSpace(p.Key) == "" {
			continue
		}
		query = append(query, url.QueryEscape(strings.TrimSpace(p.Key))+"="+url.QueryEscape(p.Value))
	}

	headers := map[string]string{}
	for _, h := range req.Headers {
		key := strings.TrimSpace(h.Key)
		if !h.Enabled || key == "" {
			continue
		}
		headers[textproto.CanonicalMIMEHeaderKey(key)] = h.Value
	}

	switch a := req.Auth.(type) {
	case nil, model.NoAuth:
	case model.BearerAuth:
		if a.Token != "" {
			headers["Authorization"] = "Bearer " + a.Token
		}
	case model.APIKeyAuth:
		key := strings.TrimSpace(a.KeyName)
		if key == "" {
			break
		}
		switch a.In {
		case model.InQuery:
			query = append(query, url.QueryEscape(key)+"="+url.QueryEscape(a.KeyValue))
		default:
			headers[textproto.CanonicalMIMEHeaderKey(key)] = a.KeyValue
		}
	default:
		panic(fmt.Sprintf("console: unhandled auth type %T", a))
	}

	out := model.ProxyRequest{
		Method:  req.Method,
		URL:     appendQuery(strings.TrimSpace(req.URL), query),
		Headers: headers,
	}
	if req.Method != "GET" && !jsonbody.IsBlank(req.BodyText) {
		body := req.BodyText
		out.BodyText = &body
	}
	return out
}

// appendQuery adds pairs after any existing query, before a fragment.
func appendQuery(raw string, pairs []string) string {
	if len(pairs) == 0 {
		return raw
	}
	base, frag, hasFrag := strings.Cut(raw, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	out := base + sep + strings.Join(pairs, "&")
	if hasFrag {
		out += "#" + frag
	}
	return out
}

// Send re-validates the URL and the body before anything leaves the
// builder. A body failure switches to the body tab and is kept for display.
func (b *Builder) Send(ctx context.Context, s Sender) (*model.Envelope, error) {
	b.urlErr = b.policy.ValidateURL(b.req.URL)
	if b.urlErr != nil {
		return nil, b.urlErr
	}
	if err := b.ValidateBody(); err != nil {
		b.tab = TabBody
		return nil, err
	}
	return s.Send(ctx, Materialize(b.req))
}

// Load replaces the request, e.g. from history or a saved item.
func (b *Builder) Load(req model.PostmanRequest) {
	b.req = req.Clone()
	if !model.IsMethod(b.req.Method) {
		b.req.Method = "GET"
	}
	b.bodyErr = nil
	b.urlErr = b.policy.ValidateURL(b.req.URL)
}

// Snapshot returns a deep copy of the current request.
func (b *Builder) Snapshot() model.PostmanRequest {
	return b.req.Clone()
}

// ParseHeaderLine parses "Name: value".
func ParseHeaderLine(line string) (model.KeyValue, error) {
	key, value, ok := strings.Cut(line, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return model.KeyValue{}, errdef.Newf(errdef.CodeInvalidInput, "invalid header %q, expected 'Key: Value'", line)
	}
	return model.KeyValue{Key: key, Value: strings.TrimSpace(value), Enabled: true}, nil
}

// ParseKeyValue parses "key=value"; the value may be empty.
func ParseKeyValue(s string) (model.KeyValue, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return model.KeyValue{}, errdef.Newf(errdef.CodeInvalidInput, "invalid parameter %q, expected key=value", s)
	}
	return model.KeyValue{Key: key, Value: value, Enabled: true}, nil
}

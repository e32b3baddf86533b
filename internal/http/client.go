package http

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

const (
	// DefaultTimeout bounds one forwarded call, body read included.
	DefaultTimeout = 20 * time.Second

	DefaultUserAgent = "apirelay/1.0"
)

// Result is what came back from one forwarded call.
type Result struct {
	Status     int
	StatusText string
	Headers    model.HeaderList
	Body       string
	IsJSON     bool
	Duration   time.Duration
}

// Client issues exactly one request per Do and never follows redirects.
type Client struct {
	client      *http.Client
	timeout     time.Duration
	maxResponse int64
	userAgent   string
}

type Option func(*Client)

// WithTransport replaces the round tripper, e.g. to trust a test server.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.client.Transport = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxResponseBytes caps the buffered body; 0 means unlimited.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxResponse = n }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a forwarding client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends method to target and buffers the whole response. The deadline
// derives from ctx, so cancelling the inbound request aborts the call.
// A nil body sends no body at all.
func (c *Client) Do(ctx context.Context, method string, target *url.URL, headers map[string]string, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, err.Error())
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := c.readBody(resp.Body)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	return &Result{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    HeaderList(resp.Header),
		Body:       string(respBody),
		IsJSON:     IsJSONContentType(resp.Header.Get("Content-Type")),
		Duration:   duration,
	}, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.maxResponse <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, errdef.Wrap(err, errdef.CodeUpstream, err.Error())
		}
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, c.maxResponse+1))
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, err.Error())
	}
	if int64(len(b)) > c.maxResponse {
		return nil, errdef.New(errdef.CodeResponseTooLarge, "Response too large")
	}
	return b, nil
}

// statusText returns the reason phrase of the status line.
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

// HeaderList flattens h into lower-cased names sorted by name, joining
// repeated values with ", ".
func HeaderList(h http.Header) model.HeaderList {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	out := make(model.HeaderList, 0, len(names))
	for _, name := range names {
		out = append(out, model.HeaderField{
			Name:  strings.ToLower(name),
			Value: strings.Join(h[name], ", "),
		})
	}
	return out
}

// IsJSONContentType reports whether ct is application/json or a +json type.
func IsJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	mt = strings.ToLower(mt)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

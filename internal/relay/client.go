package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

// Client talks to a remote relay over POST /api/proxy.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the relay at baseURL. token, when set, is
// sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Send posts req and decodes the envelope. Relay rejections come back as
// failure envelopes, not errors; an error means the relay itself was
// unreachable or answered with something that is not an envelope.
func (c *Client) Send(ctx context.Context, req model.ProxyRequest) (*model.Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeInternal, "encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/proxy", bytes.NewReader(payload))
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeInvalidURL, "relay url")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, "relay unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, "read relay response")
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errdef.Wrap(err, errdef.CodeUpstream, fmt.Sprintf("relay answered %d with a non-envelope body", resp.StatusCode))
	}
	if !env.OK && env.Error == "" {
		return nil, errdef.Newf(errdef.CodeUpstream, "relay answered %d with an empty error", resp.StatusCode)
	}
	return &env, nil
}

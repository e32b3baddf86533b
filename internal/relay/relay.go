// Package relay implements the sandboxed request relay behind POST /api/proxy.
//
// Each call passes a chain of gates that fail closed: method, target
// resolution, body size. Only then is exactly one outbound request made.
// The relay never persists anything.
package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"apirelay/internal/egress"
	"apirelay/internal/errdef"
	relayhttp "apirelay/internal/http"
	"apirelay/internal/model"
)

const (
	DefaultMaxBodyBytes = 100 * 1024

	MsgInvalidMethod = "Invalid method. Allowed: GET, POST, PUT, PATCH, DELETE"
	MsgBodyTooLarge  = "Body too large"
)

// Forwarder performs the single outbound call.
type Forwarder interface {
	Do(ctx context.Context, method string, target *url.URL, headers map[string]string, body []byte) (*relayhttp.Result, error)
}

// Relay validates descriptors and forwards them.
type Relay struct {
	policy       *egress.Policy
	forwarder    Forwarder
	base         *url.URL
	maxBodyBytes int64
	log          *zap.Logger
}

type Option func(*Relay)

// WithMaxBodyBytes overrides the request body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxBodyBytes = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a relay. base is the origin relative targets are sent to.
func New(policy *egress.Policy, forwarder Forwarder, base *url.URL, opts ...Option) *Relay {
	r := &Relay{
		policy:       policy,
		forwarder:    forwarder,
		base:         base,
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the egress policy the relay enforces.
func (r *Relay) Policy() *egress.Policy {
	return r.policy
}

// Do runs req through the gates and returns the envelope together with the
// HTTP status the relay should answer with.
func (r *Relay) Do(ctx context.Context, req model.ProxyRequest) (*model.Envelope, int) {
	method := strings.TrimSpace(req.Method)
	if !model.IsMethod(method) {
		return model.Failure(MsgInvalidMethod), http.StatusBadRequest
	}

	target, err := r.policy.Resolve(req.URL)
	if err != nil {
		r.log.Debug("relay target rejected",
			zap.String("method", method),
			zap.String("code", string(errdef.CodeOf(err))),
			zap.String("reason", egress.Reason(err)))
		if errors.Is(err, errdef.ErrHostNotAllowed) {
			return model.Failure(egress.MsgHostNotAllowed), http.StatusForbidden
		}
		return model.Failure(egress.MsgInvalidURL), http.StatusBadRequest
	}

	var body []byte
	if method != http.MethodGet && req.BodyText != nil {
		if int64(len(*req.BodyText)) > r.maxBodyBytes {
			return model.Failure(MsgBodyTooLarge), http.StatusRequestEntityTooLarge
		}
		body = []byte(*req.BodyText)
	}

	headers := egress.SanitizeHeaders(req.Headers)
	dest := target.On(r.base)

	start := time.Now()
	res, err := r.forwarder.Do(ctx, method, dest, headers, body)
	if err != nil {
		ms := time.Since(start).Milliseconds()
		r.log.Info("relay upstream failed",
			zap.String("method", method),
			zap.Stringer("kind", target.Kind),
			zap.String("host", target.Host()),
			zap.Int64("ms", ms),
			zap.Error(err))
		return model.TimedFailure(errdef.MessageOf(err), ms), http.StatusBadGateway
	}

	ms := res.Duration.Milliseconds()
	r.log.Info("relay",
		zap.String("method", method),
		zap.Stringer("kind", target.Kind),
		zap.String("host", target.Host()),
		zap.Int("status", res.Status),
		zap.Int64("ms", ms))

	return &model.Envelope{
		OK:         true,
		Status:     res.Status,
		StatusText: res.StatusText,
		Headers:    res.Headers,
		BodyText:   res.Body,
		TimeMs:     ms,
		IsJSON:     res.IsJSON,
	}, http.StatusOK
}

// Send adapts the relay to the console's Sender.
func (r *Relay) Send(ctx context.Context, req model.ProxyRequest) (*model.Envelope, error) {
	env, _ := r.Do(ctx, req)
	return env, nil
}

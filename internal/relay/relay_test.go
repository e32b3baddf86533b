package relay

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"apirelay/internal/egress"
	relayhttp "apirelay/internal/http"
	"apirelay/internal/mockapi"
	"apirelay/internal/model"
)

type upstream struct {
	srv  *httptest.Server
	hits atomic.Int64
	// lastGetBody is the body length of the last GET seen.
	lastGetBody atomic.Int64
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodGet {
			u.lastGetBody.Store(int64(len(body)))
		}
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://169.254.169.254/latest/meta-data")
		w.WriteHeader(http.StatusFound)
	})
	u.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

// pinnedTransport sends api.github.com:443 to the TLS test server and
// dorar.net:443 to deadAddr. Everything else dials normally.
func pinnedTransport(tlsAddr, deadAddr string) *http.Transport {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			switch addr {
			case "api.github.com:443":
				addr = tlsAddr
			case "dorar.net:443":
				addr = deadAddr
			}
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

func deadAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type fixture struct {
	relay    *Relay
	upstream *upstream
}

func newFixture(t *testing.T, opts ...relayhttp.Option) *fixture {
	t.Helper()
	up := newUpstream(t)
	mock := httptest.NewServer(mockapi.Handler())
	t.Cleanup(mock.Close)

	base, err := url.Parse(mock.URL)
	require.NoError(t, err)

	opts = append([]relayhttp.Option{relayhttp.WithTransport(pinnedTransport(up.srv.Listener.Addr().String(), deadAddr(t)))}, opts...)
	client := relayhttp.NewClient(opts...)
	return &fixture{
		relay:    New(egress.DefaultPolicy(), client, base),
		upstream: up,
	}
}

func strPtr(s string) *string { return &s }

func TestRelay_Gates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    model.ProxyRequest
		status int
		errMsg string
	}{
		{"lowercase method", model.ProxyRequest{Method: "get", URL: "/api/mock/users"}, 400, MsgInvalidMethod},
		{"unknown method", model.ProxyRequest{Method: "TRACE", URL: "/api/mock/users"}, 400, MsgInvalidMethod},
		{"empty url", model.ProxyRequest{Method: "GET", URL: ""}, 400, "Invalid url"},
		{"garbage url", model.ProxyRequest{Method: "GET", URL: "not a url"}, 400, "Invalid url"},
		{"metadata", model.ProxyRequest{Method: "GET", URL: "http://169.254.169.254/latest/meta-data"}, 403, "Host not allowed"},
		{"not allowlisted", model.ProxyRequest{Method: "GET", URL: "https://example.com/"}, 403, "Host not allowed"},
		{"http scheme", model.ProxyRequest{Method: "GET", URL: "http://api.github.com/"}, 403, "Host not allowed"},
		{"port", model.ProxyRequest{Method: "GET", URL: "https://api.github.com:8443/"}, 403, "Host not allowed"},
		{"relative outside prefix", model.ProxyRequest{Method: "GET", URL: "/api/proxy"}, 403, "Host not allowed"},
		{"traversal", model.ProxyRequest{Method: "GET", URL: "/api/mock/../proxy"}, 403, "Host not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, status := f.relay.Do(ctx, tt.req)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.OK)
			assert.Equal(t, tt.errMsg, env.Error)
			assert.False(t, env.Timed)
		})
	}
	assert.Zero(t, f.upstream.hits.Load())
}

func TestRelay_MockUsers(t *testing.T) {
	f := newFixture(t)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: "/api/mock/users"})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.OK, env.Error)
	assert.Equal(t, 200, env.Status)
	assert.Equal(t, "OK", env.StatusText)
	assert.True(t, env.IsJSON)
	assert.Contains(t, env.BodyText, "Leanne Graham")
	assert.GreaterOrEqual(t, env.TimeMs, int64(0))
}

func TestRelay_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	big := strings.Repeat("a", 200*1024)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{
		Method:   "POST",
		URL:      "https://api.github.com/echo",
		BodyText: &big,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "Body too large", env.Error)
	assert.Zero(t, f.upstream.hits.Load())
}

func TestRelay_BodyAtCapIsForwarded(t *testing.T) {
	f := newFixture(t)
	body := strings.Repeat("a", DefaultMaxBodyBytes)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{
		Method:   "PUT",
		URL:      "https://api.github.com/echo",
		Headers:  map[string]string{"Content-Type": "text/plain"},
		BodyText: &body,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, body, env.BodyText)
}

func TestRelay_DoesNotFollowRedirect(t *testing.T) {
	f := newFixture(t)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: "https://api.github.com/hop"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusFound, env.Status)
	assert.Equal(t, "http://169.254.169.254/latest/meta-data", env.Headers.Get("Location"))
	assert.Equal(t, int64(1), f.upstream.hits.Load())
}

func TestRelay_MockRedirect(t *testing.T) {
	f := newFixture(t)

	env, _ := f.relay.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: "/api/mock/redirect"})
	require.True(t, env.OK)
	assert.Equal(t, http.StatusFound, env.Status)
	assert.Equal(t, "https://example.invalid/", env.Headers.Get("location"))
}

func TestRelay_GetBodyNotForwarded(t *testing.T) {
	f := newFixture(t)
	f.upstream.lastGetBody.Store(-1)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{
		Method:   "GET",
		URL:      "https://api.github.com/echo",
		BodyText: strPtr(`{"smuggled":true}`),
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", env.BodyText)
	assert.Equal(t, int64(0), f.upstream.lastGetBody.Load())
}

func TestRelay_BlockedHeadersDropped(t *testing.T) {
	var seen http.Header
	fwd := forwarderFunc(func(_ context.Context, _ string, _ *url.URL, headers map[string]string, _ []byte) (*relayhttp.Result, error) {
		seen = http.Header{}
		for k, v := range headers {
			seen.Set(k, v)
		}
		return &relayhttp.Result{Status: 204, StatusText: "No Content"}, nil
	})
	r := New(egress.DefaultPolicy(), fwd, &url.URL{Scheme: "http", Host: "127.0.0.1:1"})

	env, status := r.Do(context.Background(), model.ProxyRequest{
		Method: "DELETE",
		URL:    "https://api.github.com/repos/x",
		Headers: map[string]string{
			"Host":       "internal",
			"Connection": "keep-alive",
			"X-Evil":     "a\r\nb",
			"Accept":     "application/json",
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 204, env.Status)
	assert.Equal(t, http.Header{"Accept": {"application/json"}}, seen)
}

func TestRelay_UpstreamFailure(t *testing.T) {
	f := newFixture(t)

	env, status := f.relay.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: "https://dorar.net/dorar_api.json?skey=x"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.False(t, env.OK)
	assert.NotEmpty(t, env.Error)
	assert.True(t, env.Timed)
	assert.GreaterOrEqual(t, env.TimeMs, int64(0))
}

func TestRelay_Timeout(t *testing.T) {
	f := newFixture(t, relayhttp.WithTimeout(50*time.Millisecond))

	start := time.Now()
	env, status := f.relay.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: "/api/mock/slow?ms=5000"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.True(t, env.Timed)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRelay_InboundCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	env, status := f.relay.Do(ctx, model.ProxyRequest{Method: "GET", URL: "/api/mock/slow?ms=5000"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.False(t, env.OK)
}

// Text sent to an echo endpoint comes back byte-identical.
func TestProperty_EchoRoundTrip(t *testing.T) {
	f := newFixture(t)
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.String().Draw(t, "body")
		method := rapid.SampledFrom([]string{"POST", "PUT", "PATCH", "DELETE"}).Draw(t, "method")
		env, status := f.relay.Do(context.Background(), model.ProxyRequest{
			Method:   method,
			URL:      "https://api.github.com/echo",
			Headers:  map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			BodyText: &body,
		})
		if status != http.StatusOK || !env.OK {
			t.Fatalf("status %d: %s", status, env.Error)
		}
		if env.BodyText != body {
			t.Fatalf("body changed: sent %q got %q", body, env.BodyText)
		}
	})
}

// A GET never hands a body to the forwarder.
func TestProperty_GetNeverForwardsBody(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var got []byte
		called := false
		fwd := forwarderFunc(func(_ context.Context, _ string, _ *url.URL, _ map[string]string, body []byte) (*relayhttp.Result, error) {
			called = true
			got = body
			return &relayhttp.Result{Status: 200, StatusText: "OK"}, nil
		})
		r := New(egress.DefaultPolicy(), fwd, &url.URL{Scheme: "http", Host: "127.0.0.1:1"})

		body := rapid.StringN(1, 512, -1).Draw(t, "body")
		target := rapid.SampledFrom([]string{"/api/mock/users", "https://api.github.com/", "https://dorar.net/x"}).Draw(t, "url")
		_, status := r.Do(context.Background(), model.ProxyRequest{Method: "GET", URL: target, BodyText: &body})
		if status != http.StatusOK || !called {
			t.Fatalf("status %d called %v", status, called)
		}
		if got != nil {
			t.Fatalf("GET forwarded %d body bytes", len(got))
		}
	})
}

type forwarderFunc func(ctx context.Context, method string, target *url.URL, headers map[string]string, body []byte) (*relayhttp.Result, error)

func (f forwarderFunc) Do(ctx context.Context, method string, target *url.URL, headers map[string]string, body []byte) (*relayhttp.Result, error) {
	return f(ctx, method, target, headers, body)
}

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"apirelay/internal/auth"
	"apirelay/internal/config"
	"apirelay/internal/errdef"
	relayhttp "apirelay/internal/http"
	"apirelay/internal/model"
	"apirelay/internal/relay"
	"apirelay/internal/storage"
	"apirelay/internal/viewer"
)

const testSecret = "test-secret"

type fixture struct {
	ts       *httptest.Server
	store    storage.Store
	verifier *auth.Verifier
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Auth = config.AuthConfig{Mode: auth.ModeJWT, JWTSecret: testSecret}
	if mutate != nil {
		mutate(cfg)
	}

	ts := httptest.NewUnstartedServer(nil)
	base, err := url.Parse("http://" + ts.Listener.Addr().String())
	require.NoError(t, err)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	rl := relay.New(policy, relayhttp.NewClient(relayhttp.WithTimeout(5*time.Second)), base,
		relay.WithMaxBodyBytes(cfg.Relay.MaxBodyBytes))

	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, "", "")
	s := New(cfg, rl, store, auth.NewAuthenticator(cfg.Auth.Mode, verifier), zap.NewNop())

	ts.Config.Handler = s.Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: store, verifier: verifier}
}

func (f *fixture) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := f.verifier.Issue(uid, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeEnvelope(t *testing.T, data []byte) model.Envelope {
	t.Helper()
	var env model.Envelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func TestProxy_MockUsers(t *testing.T) {
	f := newFixture(t, nil)
	resp, data := f.do(t, http.MethodPost, "/api/proxy", "", map[string]any{"method": "GET", "url": "/api/mock/users"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	env := decodeEnvelope(t, data)
	assert.True(t, env.OK)
	assert.Equal(t, 200, env.Status)
	assert.True(t, env.IsJSON)
	assert.Contains(t, env.BodyText, "Leanne Graham")
}

func TestProxy_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"invalid method", map[string]any{"method": "TRACE", "url": "/api/mock/users"}, 400, relay.MsgInvalidMethod},
		{"method of wrong type", map[string]any{"method": 1, "url": "/api/mock/users"}, 400, relay.MsgInvalidMethod},
		{"invalid url", map[string]any{"method": "GET", "url": "not a url"}, 400, "Invalid url"},
		{"host not allowed", map[string]any{"method": "GET", "url": "https://example.com/"}, 403, "Host not allowed"},
		{"not json", "{", 400, msgInvalidJSONBody},
		{"not an object", "[1,2]", 400, msgInvalidJSONBody},
		{"body over relay cap", map[string]any{"method": "POST", "url": "/api/mock/echo", "bodyText": strings.Repeat("a", 120*1024)}, 413, relay.MsgBodyTooLarge},
		{"request over read cap", map[string]any{"method": "POST", "url": "/api/mock/echo", "bodyText": strings.Repeat("a", 200*1024)}, 413, relay.MsgBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := f.do(t, http.MethodPost, "/api/proxy", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			env := decodeEnvelope(t, data)
			assert.False(t, env.OK)
			assert.Equal(t, tt.msg, env.Error)
		})
	}
}

func TestProxy_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		resp, data := f.do(t, m, "/api/proxy", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, m)
		assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"), m)
		assert.JSONEq(t, `{"ok":false,"error":"Method not allowed"}`, string(data), m)
	}
}

func TestProxy_EchoRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	text := `{"name":"ünïcødé  ","n":[1,2.50,"x"]}`
	resp, data := f.do(t, http.MethodPost, "/api/proxy", "", map[string]any{
		"method":   "PUT",
		"url":      "/api/mock/echo",
		"headers":  map[string]any{"X-Count": 3, "Host": "evil.example", "Content-Type": "application/json"},
		"bodyText": text,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	env := decodeEnvelope(t, data)
	assert.Equal(t, text, env.BodyText)
	assert.Equal(t, "PUT", env.Headers.Get("x-echo-method"))
}

func TestAuth_InvalidTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	resp, data := f.do(t, http.MethodPost, "/api/proxy", "garbage", map[string]any{"method": "GET", "url": "/api/mock/users"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"ok":false,"error":"Unauthorized"}`, string(data))
}

func TestPostman_RequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/postman/history", "/api/postman/saved", "/api/postman/export"} {
		resp, _ := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestPostman_UnknownMethod(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodPut, "/api/postman/history", f.token(t, "alice"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type historyList struct {
	OK    bool                `json:"ok"`
	Items []model.HistoryItem `json:"items"`
}

func TestPostman_History(t *testing.T) {
	f := newFixture(t, nil)
	alice, bob := f.token(t, "alice"), f.token(t, "bob")

	req := model.NewPostmanRequest()
	req.URL = "/api/mock/users"
	req.Auth = model.APIKeyAuth{KeyName: "key", KeyValue: "s3cret", In: model.InQuery}
	resp, data := f.do(t, http.MethodPost, "/api/postman/history", alice, map[string]any{
		"request":         req,
		"responseSummary": model.ResponseSummary{Status: 200, OK: true, TimeMs: 4},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var list historyList
	_, data = f.do(t, http.MethodGet, "/api/postman/history", alice, nil)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "/api/mock/users", list.Items[0].Request.URL)
	assert.Equal(t, model.APIKeyAuth{KeyName: "key", KeyValue: storage.Redacted, In: model.InQuery}, list.Items[0].Request.Auth)

	_, data = f.do(t, http.MethodGet, "/api/postman/history", bob, nil)
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Empty(t, list.Items)

	_, data = f.do(t, http.MethodDelete, "/api/postman/history", alice, nil)
	assert.JSONEq(t, `{"ok":true,"deleted":1}`, string(data))
}

func TestPostman_Saved(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, "alice")

	req := model.NewPostmanRequest()
	req.Method = "POST"
	req.URL = "/api/mock/echo"
	req.Auth = model.BearerAuth{Token: "t0k"}
	resp, data := f.do(t, http.MethodPost, "/api/postman/saved", tok, map[string]any{"name": "  ", "request": req})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var created struct {
		Item model.SavedItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, storage.DefaultSavedName, created.Item.Name)
	assert.Equal(t, model.BearerAuth{Token: "t0k"}, created.Item.Request.Auth)

	var list struct {
		Items []model.SavedItem `json:"items"`
	}
	_, data = f.do(t, http.MethodGet, "/api/postman/saved", tok, nil)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/postman/saved/"+created.Item.ID, tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/postman/saved/"+created.Item.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type sendResult struct {
	Envelope model.Envelope `json:"envelope"`
	View     viewer.View    `json:"view"`
}

func TestPostman_SendRecordsHistoryAndRendersView(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, "alice")

	req := model.NewPostmanRequest()
	req.URL = "/api/mock/hadith"
	req.Params = []model.KeyValue{{Key: "q", Value: "نية", Enabled: true}}
	req.Headers = []model.KeyValue{{Key: "X-Api-Key", Value: "header-secret", Enabled: true}}
	req.Auth = model.BearerAuth{Token: "super-secret-token"}
	resp, data := f.do(t, http.MethodPost, "/api/postman/send", tok, map[string]any{"request": req, "prevTab": "headers"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var out sendResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Envelope.OK)
	assert.Equal(t, viewer.TabPreview, out.View.ActiveTab)
	require.NotNil(t, out.View.Preview)
	assert.NotContains(t, out.View.Preview.HTML, "<script")
	assert.Len(t, out.View.Parsed, 2)

	items, err := f.store.ListHistory(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 200, items[0].ResponseSummary.Status)
	assert.Equal(t, model.BearerAuth{Token: storage.Redacted}, items[0].Request.Auth)
	assert.Equal(t, storage.Redacted, items[0].Request.Headers[0].Value)
	assert.Equal(t, "نية", items[0].Request.Params[0].Value)
}

func TestPostman_SendRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, "alice")

	req := model.NewPostmanRequest()
	req.Method = "POST"
	req.URL = "/api/mock/echo"
	req.BodyText = "{not json"
	resp, data := f.do(t, http.MethodPost, "/api/postman/send", tok, map[string]any{"request": req})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out errorBody
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.OK)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, "body", out.Tab)

	items, err := f.store.ListHistory(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPostman_SendAnonymousSkipsHistory(t *testing.T) {
	f := newFixture(t, nil)
	req := model.NewPostmanRequest()
	req.URL = "/api/mock/users"
	resp, _ := f.do(t, http.MethodPost, "/api/postman/send", "", map[string]any{"request": req})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostman_View(t *testing.T) {
	f := newFixture(t, nil)
	resp, data := f.do(t, http.MethodPost, "/api/postman/view", "", `{"envelope":{"ok":false,"error":"boom","timeMs":3},"prevTab":"preview"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v viewer.View
	require.NoError(t, json.Unmarshal(data, &v))
	assert.False(t, v.OK)
	assert.Equal(t, "boom", v.Error)
	assert.Equal(t, viewer.TabBody, v.ActiveTab)
}

func TestModeNone_TrustsUserHeader(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth = config.AuthConfig{Mode: auth.ModeNone} })

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/postman/history", nil)
	require.NoError(t, err)
	req.Header.Set(auth.UserHeader, "dev")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	})
	body := map[string]any{"method": "TRACE", "url": "/api/mock/users"}

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/proxy", "", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp, data := f.do(t, http.MethodPost, "/api/proxy", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"ok":false,"error":"Too many requests"}`, string(data))

	// An authenticated caller has its own bucket.
	resp, _ = f.do(t, http.MethodPost, "/api/proxy", f.token(t, "alice"), body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLimiter_PrunesIdleClients(t *testing.T) {
	l := newLimiter(1, 1)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(limiterIdle + time.Second)
	l.prune(now)
	assert.Empty(t, l.clients)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.CORSOrigins = []string{"https://app.example"} })

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/proxy", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, err := f.ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = preflight("https://other.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := map[errdef.Code]int{
		errdef.CodeInvalidMethod:    400,
		errdef.CodeInvalidURL:       400,
		errdef.CodeInvalidUser:      400,
		errdef.CodeUnauthorized:     401,
		errdef.CodeHostNotAllowed:   403,
		errdef.CodeNotFound:         404,
		errdef.CodeBodyTooLarge:     413,
		errdef.CodeRateLimited:      429,
		errdef.CodeUpstream:         502,
		errdef.CodeResponseTooLarge: 502,
		errdef.CodeStorage:          500,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), string(code))
	}
}

func TestRespondErr_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	respondErr(rec, errdef.Wrap(io.ErrUnexpectedEOF, errdef.CodeStorage, "storage: list history"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Internal error"}`, rec.Body.String())
}

func TestHealthAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, data := f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"ok":false,"error":"Not found"}`, string(data))
}

package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apirelay/internal/egress"
	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

type recordingSender struct {
	calls []model.ProxyRequest
}

func (s *recordingSender) Send(_ context.Context, req model.ProxyRequest) (*model.Envelope, error) {
	s.calls = append(s.calls, req)
	return &model.Envelope{OK: true, Status: 200, StatusText: "OK"}, nil
}

func newBuilder() *Builder {
	return NewBuilder(egress.DefaultPolicy())
}

func TestBuilder_Defaults(t *testing.T) {
	b := newBuilder()
	assert.Equal(t, []string{"GET", "POST", "PUT", "PATCH", "DELETE"}, b.Methods())
	assert.Equal(t, "GET", b.Snapshot().Method)
	assert.False(t, b.CanSend(), "empty url")
	assert.NotEmpty(t, b.URLError())
	assert.Equal(t, TabParams, b.ActiveTab())
}

func TestBuilder_LiveURLValidation(t *testing.T) {
	b := newBuilder()

	b.SetURL("https://api.github.com/users/octocat")
	assert.True(t, b.CanSend())
	assert.Empty(t, b.URLError())

	b.SetURL("http://169.254.169.254/latest/meta-data")
	assert.False(t, b.CanSend())
	assert.Contains(t, b.URLError(), "Host not allowed")

	b.SetURL("/api/mock/users")
	assert.True(t, b.CanSend())
}

func TestBuilder_SetMethod(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.SetMethod("PATCH"))
	err := b.SetMethod("OPTIONS")
	require.Error(t, err)
	assert.Equal(t, errdef.CodeInvalidMethod, errdef.CodeOf(err))
	assert.Equal(t, "PATCH", b.Snapshot().Method)
}

func TestBuilder_Rows(t *testing.T) {
	b := newBuilder()
	i := b.AddParam("page", "1")
	j := b.AddParam("sort", "asc")
	require.NoError(t, b.ToggleParam(i))
	require.NoError(t, b.SetParam(j, "sort", "desc"))

	params := b.Params()
	require.Len(t, params, 2)
	assert.False(t, params[0].Enabled, "toggled rows are kept, not removed")
	assert.Equal(t, "desc", params[1].Value)

	require.NoError(t, b.RemoveParam(0))
	assert.Len(t, b.Params(), 1)
	assert.Error(t, b.RemoveParam(5))
	assert.Error(t, b.ToggleHeader(0))

	h := b.AddHeader("X-A", "1")
	require.NoError(t, b.SetHeader(h, "X-B", "2"))
	require.NoError(t, b.ToggleHeader(h))
	require.NoError(t, b.ToggleHeader(h))
	assert.Equal(t, []model.KeyValue{{Key: "X-B", Value: "2", Enabled: true}}, b.Headers())
	require.NoError(t, b.RemoveHeader(h))
	assert.Empty(t, b.Headers())
}

func TestMaterialize(t *testing.T) {
	tests := []struct {
		name string
		req  model.PostmanRequest
		want model.ProxyRequest
	}{
		{
			name: "params merged after existing query",
			req: model.PostmanRequest{
				Method: "GET",
				URL:    "/api/mock/users?x=1",
				Params: []model.KeyValue{
					{Key: "q", Value: "a b", Enabled: true},
					{Key: "off", Value: "z", Enabled: false},
					{Key: " ", Value: "skip", Enabled: true},
				},
				Auth:     model.NoAuth{},
				BodyText: `{"ignored":true}`,
			},
			want: model.ProxyRequest{Method: "GET", URL: "/api/mock/users?x=1&q=a+b", Headers: map[string]string{}},
		},
		{
			name: "bearer",
			req: model.PostmanRequest{
				Method:   "POST",
				URL:      "https://api.github.com/graphql",
				Headers:  []model.KeyValue{{Key: "Accept", Value: "application/json", Enabled: true}, {Key: "X-Off", Value: "1"}},
				Auth:     model.BearerAuth{Token: "t0k"},
				BodyText: `{"query":"{}"}`,
			},
			want: model.ProxyRequest{
				Method:   "POST",
				URL:      "https://api.github.com/graphql",
				Headers:  map[string]string{"Accept": "application/json", "Authorization": "Bearer t0k"},
				BodyText: strPtr(`{"query":"{}"}`),
			},
		},
		{
			name: "api key in query",
			req: model.PostmanRequest{
				Method: "GET",
				URL:    "https://dorar.net/dorar_api.json#frag",
				Params: []model.KeyValue{{Key: "skey", Value: "النية", Enabled: true}},
				Auth:   model.APIKeyAuth{KeyName: "api_key", KeyValue: "k&v", In: model.InQuery},
			},
			want: model.ProxyRequest{
				Method:  "GET",
				URL:     "https://dorar.net/dorar_api.json?skey=%D8%A7%D9%84%D9%86%D9%8A%D8%A9&api_key=k%26v#frag",
				Headers: map[string]string{},
			},
		},
		{
			name: "api key in header overrides row",
			req: model.PostmanRequest{
				Method:  "DELETE",
				URL:     "/api/mock/users/1",
				Headers: []model.KeyValue{{Key: "X-Api-Key", Value: "old", Enabled: true}},
				Auth:    model.APIKeyAuth{KeyName: "X-Api-Key", KeyValue: "new", In: model.InHeader},
			},
			want: model.ProxyRequest{Method: "DELETE", URL: "/api/mock/users/1", Headers: map[string]string{"X-Api-Key": "new"}},
		},
		{
			name: "bearer wins over a lowercase authorization row",
			req: model.PostmanRequest{
				Method: "GET",
				URL:    "/api/mock/users",
				Headers: []model.KeyValue{
					{Key: "authorization", Value: "Basic old", Enabled: true},
					{Key: "x-trace", Value: "t", Enabled: true},
				},
				Auth: model.BearerAuth{Token: "t0k"},
			},
			want: model.ProxyRequest{
				Method:  "GET",
				URL:     "/api/mock/users",
				Headers: map[string]string{"Authorization": "Bearer t0k", "X-Trace": "t"},
			},
		},
		{
			name: "blank body on POST is dropped",
			req:  model.PostmanRequest{Method: "POST", URL: "/api/mock/echo", Auth: model.NoAuth{}, BodyText: "  \n"},
			want: model.ProxyRequest{Method: "POST", URL: "/api/mock/echo", Headers: map[string]string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Materialize(tt.req))
		})
	}
}

func strPtr(s string) *string { return &s }

func TestBuilder_FormatBody(t *testing.T) {
	b := newBuilder()
	b.SetBody(`{"b":1,"a":[1,2]}`)
	require.NoError(t, b.FormatBody())
	assert.Equal(t, "{\n  \"b\": 1,\n  \"a\": [\n    1,\n    2\n  ]\n}", b.Body())

	b.SetBody("{oops")
	require.Error(t, b.FormatBody())
	assert.Equal(t, "{oops", b.Body())
	assert.NotEmpty(t, b.BodyError())
}

// Invalid JSON blocks the send and focuses the body tab.
func TestBuilder_SendBlockedByInvalidBody(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.SetMethod("POST"))
	b.SetURL("/api/mock/echo")
	b.SetBody("{not json")
	require.NoError(t, b.SetTab(TabHeaders))
	assert.False(t, b.CanSend())

	sender := &recordingSender{}
	env, err := b.Send(context.Background(), sender)
	require.Error(t, err)
	assert.Nil(t, env)
	assert.Empty(t, sender.calls)
	assert.Equal(t, TabBody, b.ActiveTab())
	assert.NotEmpty(t, b.BodyError())
	assert.Equal(t, errdef.CodeInvalidJSON, errdef.CodeOf(err))
}

func TestBuilder_SendRevalidatesURL(t *testing.T) {
	b := newBuilder()
	b.SetURL("/api/mock/users")
	b.Load(model.PostmanRequest{Method: "GET", URL: "https://example.com/"})

	sender := &recordingSender{}
	_, err := b.Send(context.Background(), sender)
	require.Error(t, err)
	assert.Equal(t, errdef.CodeHostNotAllowed, errdef.CodeOf(err))
	assert.Empty(t, sender.calls)
}

func TestBuilder_Send(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.SetMethod("PUT"))
	b.SetURL("/api/mock/echo")
	b.AddHeader("Content-Type", "application/json")
	b.SetAuth(model.BearerAuth{Token: "abc"})
	b.SetBody(`{"x":1}`)

	sender := &recordingSender{}
	env, err := b.Send(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, env.OK)
	require.Len(t, sender.calls, 1)
	got := sender.calls[0]
	assert.Equal(t, "PUT", got.Method)
	assert.Equal(t, `{"x":1}`, got.Body())
	assert.Equal(t, "Bearer abc", got.Headers["Authorization"])

	desc, err := b.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, got, desc)
}

func TestBuilder_LoadSnapshotIsolation(t *testing.T) {
	b := newBuilder()
	src := model.PostmanRequest{
		Method: "POST",
		URL:    "/api/mock/echo",
		Params: []model.KeyValue{{Key: "a", Value: "1", Enabled: true}},
		Auth:   model.NoAuth{},
	}
	b.Load(src)
	require.NoError(t, b.SetParam(0, "a", "changed"))
	assert.Equal(t, "1", src.Params[0].Value)

	snap := b.Snapshot()
	snap.Params[0].Value = "mutated"
	assert.Equal(t, "changed", b.Params()[0].Value)
}

func TestParseHeaderLine(t *testing.T) {
	kv, err := ParseHeaderLine("Authorization: Bearer a:b")
	require.NoError(t, err)
	assert.Equal(t, model.KeyValue{Key: "Authorization", Value: "Bearer a:b", Enabled: true}, kv)

	_, err = ParseHeaderLine("no-colon")
	assert.Error(t, err)
	_, err = ParseHeaderLine(": v")
	assert.Error(t, err)
}

func TestParseKeyValue(t *testing.T) {
	kv, err := ParseKeyValue("q=a=b")
	require.NoError(t, err)
	assert.Equal(t, model.KeyValue{Key: "q", Value: "a=b", Enabled: true}, kv)

	kv, err = ParseKeyValue("flag=")
	require.NoError(t, err)
	assert.Equal(t, "", kv.Value)

	_, err = ParseKeyValue("novalue")
	assert.Error(t, err)
}

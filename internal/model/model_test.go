package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderList_PreservesOrder(t *testing.T) {
	h := HeaderList{{"x-b", "2"}, {"content-type", "application/json"}, {"x-a", "1"}}

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `{"x-b":"2","content-type":"application/json","x-a":"1"}`, string(data))

	var back HeaderList
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h, back)
	assert.Equal(t, "application/json", back.Get("Content-Type"))
}

func TestEnvelope_FailureShape(t *testing.T) {
	data, err := json.Marshal(Failure("Host not allowed"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"Host not allowed"}`, string(data))

	data, err = json.Marshal(TimedFailure("dial tcp: refused", 12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"dial tcp: refused","timeMs":12}`, string(data))

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.False(t, env.OK)
	assert.True(t, env.Timed)
	assert.Equal(t, int64(12), env.TimeMs)
}

func TestEnvelope_SuccessShape(t *testing.T) {
	env := Envelope{OK: true, Status: 200, StatusText: "OK", BodyText: "{}", TimeMs: 3, IsJSON: true}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"status":200,"statusText":"OK","headers":{},"bodyText":"{}","timeMs":3,"isJson":true}`, string(data))
}

func TestPostmanRequest_AuthVariants(t *testing.T) {
	cases := []struct {
		name string
		auth Auth
		wire string
	}{
		{"none", NoAuth{}, `{"type":"none"}`},
		{"bearer", BearerAuth{Token: "t0k"}, `{"type":"bearer","token":"t0k"}`},
		{"apikey query", APIKeyAuth{KeyName: "key", KeyValue: "v", In: InQuery}, `{"type":"apikey","keyName":"key","keyValue":"v","in":"query"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := NewPostmanRequest()
			req.URL = "/api/mock/users"
			req.Auth = tc.auth

			data, err := json.Marshal(req)
			require.NoError(t, err)

			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &raw))
			assert.JSONEq(t, tc.wire, string(raw["auth"]))

			var back PostmanRequest
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tc.auth, back.Auth)
		})
	}
}

func TestPostmanRequest_RejectsUnknownAuth(t *testing.T) {
	var req PostmanRequest
	err := json.Unmarshal([]byte(`{"method":"GET","url":"/api/mock/users","auth":{"type":"digest"}}`), &req)
	assert.Error(t, err)
}

func TestPostmanRequest_CloneIsDeep(t *testing.T) {
	req := NewPostmanRequest()
	req.Params = append(req.Params, KeyValue{Key: "a", Value: "1", Enabled: true})
	snap := req.Clone()
	req.Params[0].Value = "2"
	assert.Equal(t, "1", snap.Params[0].Value)
}

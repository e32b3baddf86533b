package model

import (
	"encoding/json"
	"fmt"
)

// AuthType is the discriminator used on the wire.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "apikey"
)

// APIKeyLocation says where an API key is placed.
type APIKeyLocation string

const (
	InHeader APIKeyLocation = "header"
	InQuery  APIKeyLocation = "query"
)

// Auth is a closed set: NoAuth, BearerAuth and APIKeyAuth.
// Code that materializes auth switches over these three concrete types.
type Auth interface {
	Type() AuthType
	sealed()
}

type NoAuth struct{}

type BearerAuth struct {
	Token string
}

type APIKeyAuth struct {
	KeyName  string
	KeyValue string
	In       APIKeyLocation
}

func (NoAuth) Type() AuthType     { return AuthNone }
func (BearerAuth) Type() AuthType { return AuthBearer }
func (APIKeyAuth) Type() AuthType { return AuthAPIKey }

func (NoAuth) sealed()     {}
func (BearerAuth) sealed() {}
func (APIKeyAuth) sealed() {}

type authWire struct {
	Type     AuthType       `json:"type"`
	Token    string         `json:"token,omitempty"`
	KeyName  string         `json:"keyName,omitempty"`
	KeyValue string         `json:"keyValue,omitempty"`
	In       APIKeyLocation `json:"in,omitempty"`
}

func encodeAuth(a Auth) authWire {
	switch v := a.(type) {
	case nil, NoAuth:
		return authWire{Type: AuthNone}
	case BearerAuth:
		return authWire{Type: AuthBearer, Token: v.Token}
	case APIKeyAuth:
		in := v.In
		if in == "" {
			in = InHeader
		}
		return authWire{Type: AuthAPIKey, KeyName: v.KeyName, KeyValue: v.KeyValue, In: in}
	default:
		panic(fmt.Sprintf("model: unhandled auth type %T", a))
	}
}

func (w authWire) decode() (Auth, error) {
	switch w.Type {
	case "", AuthNone:
		return NoAuth{}, nil
	case AuthBearer:
		return BearerAuth{Token: w.Token}, nil
	case AuthAPIKey:
		in := w.In
		switch in {
		case "":
			in = InHeader
		case InHeader, InQuery:
		default:
			return nil, fmt.Errorf("invalid api key location %q", w.In)
		}
		return APIKeyAuth{KeyName: w.KeyName, KeyValue: w.KeyValue, In: in}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", w.Type)
	}
}

type postmanRequestAlias PostmanRequest

type postmanRequestWire struct {
	postmanRequestAlias
	Auth authWire `json:"auth"`
}

// MarshalJSON writes the auth variant with its "type" discriminator.
func (r PostmanRequest) MarshalJSON() ([]byte, error) {
	w := postmanRequestWire{postmanRequestAlias: postmanRequestAlias(r), Auth: encodeAuth(r.Auth)}
	if w.Params == nil {
		w.Params = []KeyValue{}
	}
	if w.Headers == nil {
		w.Headers = []KeyValue{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the auth variant and rejects unknown types.
func (r *PostmanRequest) UnmarshalJSON(data []byte) error {
	var w postmanRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a, err := w.Auth.decode()
	if err != nil {
		return err
	}
	*r = PostmanRequest(w.postmanRequestAlias)
	r.Auth = a
	if r.Params == nil {
		r.Params = []KeyValue{}
	}
	if r.Headers == nil {
		r.Headers = []KeyValue{}
	}
	return nil
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"apirelay/internal/egress"
	"apirelay/internal/model"
	"apirelay/internal/relay"
)

// proxyWire is the loosely typed request body of POST /api/proxy. Fields of
// the wrong type are treated as absent and rejected by the relay gates.
type proxyWire struct {
	Method   any `json:"method"`
	URL      any `json:"url"`
	Headers  any `json:"headers"`
	BodyText any `json:"bodyText"`
}

func (p proxyWire) request() model.ProxyRequest {
	req := model.ProxyRequest{}
	req.Method, _ = p.Method.(string)
	req.URL, _ = p.URL.(string)
	if h, ok := p.Headers.(map[string]any); ok {
		req.Headers = egress.SanitizeAny(h)
	}
	if b, ok := p.BodyText.(string); ok {
		req.BodyText = &b
	}
	return req
}

func (s *Server) maxRequestBytes() int64 {
	limit := s.cfg.Relay.MaxBodyBytes
	if limit <= 0 {
		limit = relay.DefaultMaxBodyBytes
	}
	return limit + envelopeSlack
}

// decodeJSON reads a bounded JSON body into v and writes the error
// response itself when that fails.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxRequestBytes()))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, relay.MsgBodyTooLarge)
			return false
		}
		respondError(w, http.StatusBadRequest, msgInvalidJSONBody)
		return false
	}
	return true
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	var wire proxyWire
	if !s.decodeJSON(w, r, &wire) {
		return
	}
	env, status := s.relay.Do(r.Context(), wire.request())
	respondJSON(w, status, env)
}

func (s *Server) handleProxyMethod(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	respondError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
}

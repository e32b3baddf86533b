package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"apirelay/internal/auth"
	"apirelay/internal/console"
	"apirelay/internal/errdef"
	"apirelay/internal/model"
	"apirelay/internal/storage"
	"apirelay/internal/viewer"
)

type listResponse[T any] struct {
	OK    bool `json:"ok"`
	Items []T  `json:"items"`
}

type itemResponse[T any] struct {
	OK   bool `json:"ok"`
	Item T    `json:"item"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListHistory(r.Context(), auth.UIDFrom(r.Context()))
	if err != nil {
		s.storageFailed(w, "list history", err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse[model.HistoryItem]{OK: true, Items: nonNil(items)})
}

type addHistoryRequest struct {
	Request         model.PostmanRequest  `json:"request"`
	ResponseSummary model.ResponseSummary `json:"responseSummary"`
}

func (s *Server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var in addHistoryRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	item := storage.NewHistoryItem(storage.Redact(in.Request), in.ResponseSummary)
	if err := s.store.AddHistory(r.Context(), auth.UIDFrom(r.Context()), item); err != nil {
		s.storageFailed(w, "add history", err)
		return
	}
	respondJSON(w, http.StatusCreated, itemResponse[model.HistoryItem]{OK: true, Item: item})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearHistory(r.Context(), auth.UIDFrom(r.Context()))
	if err != nil {
		s.storageFailed(w, "clear history", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": n})
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListSaved(r.Context(), auth.UIDFrom(r.Context()))
	if err != nil {
		s.storageFailed(w, "list saved", err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse[model.SavedItem]{OK: true, Items: nonNil(items)})
}

type saveRequest struct {
	Name    string               `json:"name"`
	Request model.PostmanRequest `json:"request"`
}

func (s *Server) handleSaveRequest(w http.ResponseWriter, r *http.Request) {
	var in saveRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	item, err := s.store.SaveRequest(r.Context(), auth.UIDFrom(r.Context()), in.Name, in.Request)
	if err != nil {
		s.storageFailed(w, "save request", err)
		return
	}
	respondJSON(w, http.StatusCreated, itemResponse[model.SavedItem]{OK: true, Item: item})
}

func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteSaved(r.Context(), auth.UIDFrom(r.Context()), id); err != nil {
		s.storageFailed(w, "delete saved", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	a, err := storage.Export(r.Context(), s.store, auth.UIDFrom(r.Context()))
	if err != nil {
		s.storageFailed(w, "export", err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) storageFailed(w http.ResponseWriter, op string, err error) {
	s.log.Warn("console storage", zap.String("op", op), zap.Error(err))
	respondErr(w, err)
}

type viewRequest struct {
	Envelope *model.Envelope `json:"envelope"`
	PrevTab  string          `json:"prevTab"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var in viewRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	respondJSON(w, http.StatusOK, viewer.Build(in.Envelope, viewer.ParseTab(in.PrevTab)))
}

type sendRequest struct {
	Request model.PostmanRequest `json:"request"`
	PrevTab string               `json:"prevTab"`
}

type sendResponse struct {
	Envelope *model.Envelope `json:"envelope"`
	View     *viewer.View    `json:"view"`
}

// relaySender remembers the status the relay answered with.
type relaySender struct {
	s      *Server
	status int
}

func (rs *relaySender) Send(ctx context.Context, req model.ProxyRequest) (*model.Envelope, error) {
	env, status := rs.s.relay.Do(ctx, req)
	rs.status = status
	return env, nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}

	b := console.NewBuilder(s.relay.Policy())
	b.Load(in.Request)
	sender := &relaySender{s: s}
	env, err := b.Send(r.Context(), sender)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errdef.MessageOf(err), Tab: string(b.ActiveTab())})
		return
	}

	if uid := auth.UIDFrom(r.Context()); uid != "" && s.store != nil {
		item := storage.NewHistoryItem(storage.Redact(b.Snapshot()), model.SummaryOf(env))
		if err := s.store.AddHistory(r.Context(), uid, item); err != nil {
			s.log.Warn("history append failed", zap.Error(err))
		}
	}

	respondJSON(w, sender.status, sendResponse{
		Envelope: env,
		View:     viewer.Build(env, viewer.ParseTab(in.PrevTab)),
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Package server exposes the timeline and the connectivity monitor over a
// small JSON HTTP API for the demo shell.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/comigor/chatline/internal/logger"
	"github.com/comigor/chatline/internal/metrics"
	"github.com/comigor/chatline/internal/network"
	"github.com/comigor/chatline/internal/timeline"
)

// Monitor is the part of *network.Monitor the API drives.
type Monitor interface {
	State() network.State
	IsOnline() bool
	IsReconnecting() bool
	ReconnectAttempts() int
	MarkOffline()
	MarkOnline()
	BeginAttempt()
}

type Server struct {
	tl  *timeline.Manager
	mon Monitor
	log *slog.Logger
}

func New(tl *timeline.Manager, mon Monitor) *Server {
	return &Server{tl: tl, mon: mon, log: logger.For("server")}
}

// Handler returns the routed API, /metrics included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /messages", s.listMessages)
	mux.HandleFunc("POST /messages", s.sendMessage)
	mux.HandleFunc("GET /messages/{id}", s.getMessage)
	mux.HandleFunc("POST /messages/{id}/retry", s.retryMessage)
	mux.HandleFunc("POST /messages/{id}/revoke", s.revokeMessage)
	mux.HandleFunc("POST /messages/{id}/delete", s.deleteMessage)

	mux.HandleFunc("GET /filter", s.getFilter)
	mux.HandleFunc("PUT /filter", s.setFilter)

	mux.HandleFunc("GET /history", s.historyState)
	mux.HandleFunc("POST /history/more", s.loadMore)
	mux.HandleFunc("DELETE /history/error", s.clearHistoryError)

	mux.HandleFunc("GET /network", s.networkState)
	mux.HandleFunc("POST /network/offline", s.markOffline)
	mux.HandleFunc("POST /network/online", s.markOnline)
	mux.HandleFunc("POST /network/attempt", s.beginAttempt)

	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type messagesResponse struct {
	Filter   timeline.Filter    `json:"filter"`
	Total    int                `json:"total"`
	Messages []timeline.Message `json:"messages"`
}

// listMessages returns the view under the shared filter, or under the
// keyword and sender query parameters when either is given. Query filters
// apply to this request only.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("keyword") && !q.Has("sender") {
		s.writeJSON(w, http.StatusOK, messagesResponse{
			Filter:   s.tl.Filter(),
			Total:    s.tl.Count(),
			Messages: s.tl.Filtered(),
		})
		return
	}

	f := timeline.Filter{Keyword: q.Get("keyword"), Sender: q.Get("sender")}
	all := s.tl.Messages()
	matched := make([]timeline.Message, 0, len(all))
	for _, msg := range all {
		if f.Match(msg) {
			matched = append(matched, msg)
		}
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{Filter: f, Total: len(all), Messages: matched})
}

func (s *Server) getFilter(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tl.Filter())
}

func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	var f timeline.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, "invalid filter", http.StatusBadRequest)
		return
	}
	s.tl.SetFilter(f)
	s.writeJSON(w, http.StatusOK, s.tl.Filter())
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("read body error", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		http.Error(w, "message content is empty", http.StatusBadRequest)
		return
	}

	id := s.tl.SendAsync(s.tl.Context(), content)
	msg, _ := s.tl.Get(id)
	s.writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.tl.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

type actionResponse struct {
	Success bool              `json:"success"`
	Message *timeline.Message `json:"message,omitempty"`
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, do func(id string) bool) {
	id := r.PathValue("id")
	if _, ok := s.tl.Get(id); !ok {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	resp := actionResponse{Success: do(id)}
	if msg, ok := s.tl.Get(id); ok {
		resp.Message = &msg
	}
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) retryMessage(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string) bool { return s.tl.Retry(r.Context(), id) })
}

func (s *Server) revokeMessage(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string) bool { return s.tl.Revoke(r.Context(), id) })
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string) bool { return s.tl.Delete(r.Context(), id) })
}

type historyResponse struct {
	Loaded            bool   `json:"loaded"`
	HasMore           bool   `json:"hasMore"`
	EarliestTimestamp *int64 `json:"earliestTimestamp,omitempty"`
	Loading           bool   `json:"loading"`
	Error             string `json:"error,omitempty"`
	Total             int    `json:"total"`
}

func (s *Server) history(loaded bool) historyResponse {
	resp := historyResponse{
		Loaded:  loaded,
		HasMore: s.tl.HasMoreHistory(),
		Loading: s.tl.IsLoadingHistory(),
		Error:   s.tl.HistoryError(),
		Total:   s.tl.Count(),
	}
	if ts, ok := s.tl.EarliestTimestamp(); ok {
		resp.EarliestTimestamp = &ts
	}
	return resp
}

func (s *Server) historyState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.history(false))
}

func (s *Server) loadMore(w http.ResponseWriter, r *http.Request) {
	loaded := s.tl.LoadMoreHistory(r.Context())
	s.writeJSON(w, http.StatusOK, s.history(loaded))
}

func (s *Server) clearHistoryError(w http.ResponseWriter, r *http.Request) {
	s.tl.ClearHistoryError()
	w.WriteHeader(http.StatusNoContent)
}

type networkResponse struct {
	State             network.State `json:"state"`
	Online            bool          `json:"online"`
	Reconnecting      bool          `json:"reconnecting"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
	Pending           int           `json:"pending"`
}

func (s *Server) networkState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, networkResponse{
		State:             s.mon.State(),
		Online:            s.mon.IsOnline(),
		Reconnecting:      s.mon.IsReconnecting(),
		ReconnectAttempts: s.mon.ReconnectAttempts(),
		Pending:           len(s.tl.Pending()),
	})
}

func (s *Server) markOffline(w http.ResponseWriter, r *http.Request) {
	s.mon.MarkOffline()
	s.networkState(w, r)
}

func (s *Server) markOnline(w http.ResponseWriter, r *http.Request) {
	s.mon.MarkOnline()
	s.networkState(w, r)
}

func (s *Server) beginAttempt(w http.ResponseWriter, r *http.Request) {
	s.mon.BeginAttempt()
	s.networkState(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response error", "err", err)
	}
}

// Package api serves the local control surface: health, status, metrics
// and session lifecycle. Handlers stay thin; all behavior lives in the
// sync manager and session coordinator.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/collab"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
	"chatsync/pkg/syncmgr"
	"chatsync/pkg/utils"
)

// Server wires the control API over the running components.
type Server struct {
	sync  *syncmgr.Manager
	coord *collab.Coordinator
}

// NewServer builds the control API server.
func NewServer(sync *syncmgr.Manager, coord *collab.Coordinator) *Server {
	return &Server{sync: sync, coord: coord}
}

// Handler returns the routed control API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLog)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/statusz", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/session", s.handleSessionCreate).Methods(http.MethodPost)
	v1.HandleFunc("/session/join", s.handleSessionJoin).Methods(http.MethodPost)
	v1.HandleFunc("/session", s.handleSessionGet).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.handleSessionLeave).Methods(http.MethodDelete)
	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	SyncState    string      `json:"sync_state"`
	QueueDepth   int         `json:"queue_depth"`
	SessionState string      `json:"session_state"`
	Peers        int         `json:"peers"`
	Store        store.Stats `json:"store"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		SyncState:    s.sync.State().String(),
		QueueDepth:   s.sync.QueueDepth(),
		SessionState: s.coord.State().String(),
		Peers:        s.coord.PeerCount(),
		Store:        store.GetStats(),
	}
	_ = utils.JSONWrite(w, http.StatusOK, resp)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, collab.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, collab.ErrNoSession):
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

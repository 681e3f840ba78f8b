package api

import (
	"encoding/json"
	"net/http"

	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

type createSessionRequest struct {
	Permission string `json:"permission"`
}

type createSessionResponse struct {
	Link    string         `json:"link"`
	Session models.Session `json:"session"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	link, err := s.coord.Create(r.Context(), req.Permission)
	if err != nil {
		utils.JSONError(w, errStatus(err), err.Error())
		return
	}
	sess, _ := s.coord.Session()
	_ = utils.JSONWrite(w, http.StatusCreated, createSessionResponse{Link: link, Session: sess})
}

type joinSessionRequest struct {
	Link string `json:"link"`
}

func (s *Server) handleSessionJoin(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Link == "" {
		utils.JSONError(w, http.StatusBadRequest, "invalid json: link required")
		return
	}
	sess, err := s.coord.Join(r.Context(), req.Link)
	if err != nil {
		utils.JSONError(w, errStatus(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

type sessionResponse struct {
	Session models.Session `json:"session"`
	State   string         `json:"state"`
	Peers   int            `json:"peers"`
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.Session()
	if err != nil {
		utils.JSONError(w, errStatus(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sessionResponse{
		Session: sess,
		State:   s.coord.State().String(),
		Peers:   s.coord.PeerCount(),
	})
}

func (s *Server) handleSessionLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Leave(); err != nil {
		utils.JSONError(w, errStatus(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "left"})
}

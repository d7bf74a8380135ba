package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/wfplatform/chat-service/internal/server"
	"github.com/wfplatform/chat-service/internal/types"
)

type CreateChannelRequest struct {
	Name    string            `json:"name"`
	Type    types.ChannelType `json:"type"`
	Private bool              `json:"private"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "err", err)
	}
}

func (s *ChatApp) listChannels(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries, err := s.pl.ListChannels(r.Context(), userId)
	if err != nil {
		s.log.Errorw("list channels", "user_id", userId, "err", err)
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, summaries)
}

func (s *ChatApp) createChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.pl.CreateChannel(r.Context(), userId, req.Name, req.Type, req.Private)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, channel)
}

// getHistory is the REST view of history for clients without a live
// socket. Channels are addressed by external id here.
func (s *ChatApp) getHistory(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("channel_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.pl.GetChannelByExternalId(r.Context(), externalId)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	history, err := s.pl.GetHistory(r.Context(), channel.Id, userId, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, history)
}

func (s *ChatApp) getPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserId(r.Context()); !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	targetId, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	p, err := s.registry.GetPresence(r.Context(), targetId)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, p)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade connection", "err", err)
		return
	}

	client := server.NewClient(userId, conn, s.hub, s.registry, s.log)
	if _, err := s.registry.Admit(r.Context(), client); err != nil {
		s.log.Warnw("admit connection", "user_id", userId, "err", err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

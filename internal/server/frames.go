package server

import (
	"net/http"
	"time"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

// ClientFrame is the tagged union read off the websocket. Exactly one
// operation pointer is set per frame. Id is a client-assigned
// correlation id echoed back on the response.
type ClientFrame struct {
	Id            int                 `json:"id,omitempty"`
	Join          *JoinFrame          `json:"join,omitempty"`
	Leave         *LeaveFrame         `json:"leave,omitempty"`
	Post          *PostFrame          `json:"post,omitempty"`
	Edit          *EditFrame          `json:"edit,omitempty"`
	Delete        *DeleteFrame        `json:"delete,omitempty"`
	SetReaction   *SetReactionFrame   `json:"set_reaction,omitempty"`
	ClearReaction *ClearReactionFrame `json:"clear_reaction,omitempty"`
	Typing        *TypingFrame        `json:"typing,omitempty"`
	MarkRead      *MarkReadFrame      `json:"mark_read,omitempty"`
	History       *HistoryFrame       `json:"history,omitempty"`
	Presence      *PresenceFrame      `json:"presence,omitempty"`
	Heartbeat     *HeartbeatFrame     `json:"heartbeat,omitempty"`

	client *Client
	userId int64
}

type JoinFrame struct {
	ChannelId int64 `json:"channel_id"`
}

type LeaveFrame struct {
	ChannelId int64 `json:"channel_id"`
}

type PostFrame struct {
	ChannelId int64 `json:"channel_id,omitempty"`
	// RecipientId addresses a direct message; the direct channel is
	// created lazily on first contact.
	RecipientId int64              `json:"recipient_id,omitempty"`
	Type        types.MessageType  `json:"type"`
	Content     string             `json:"content"`
	ParentId    int64              `json:"parent_id,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

type EditFrame struct {
	MessageId int64  `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteFrame struct {
	MessageId int64 `json:"message_id"`
}

type SetReactionFrame struct {
	MessageId int64  `json:"message_id"`
	Kind      string `json:"kind"`
}

type ClearReactionFrame struct {
	MessageId int64 `json:"message_id"`
}

type TypingFrame struct {
	ChannelId int64 `json:"channel_id"`
	IsTyping  bool  `json:"is_typing"`
}

type MarkReadFrame struct {
	ChannelId int64 `json:"channel_id"`
}

type HistoryFrame struct {
	ChannelId int64  `json:"channel_id"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type PresenceFrame struct {
	Status types.PresenceStatus `json:"status"`
	Note   string               `json:"note,omitempty"`
}

type HeartbeatFrame struct{}

// ServerFrame is what goes back down the socket: either a response to a
// client frame (correlated by Id) or a server-pushed event.
type ServerFrame struct {
	Id        int          `json:"id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Response  *Response    `json:"response,omitempty"`
	Event     *types.Event `json:"event,omitempty"`
}

type Response struct {
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func eventFrame(evt *types.Event) *ServerFrame {
	return &ServerFrame{
		Timestamp: Now(),
		Event:     evt,
	}
}

func okFrame(id int, data any) *ServerFrame {
	return &ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response:  &Response{Code: http.StatusOK, Data: data},
	}
}

func errorFrame(id int, err error) *ServerFrame {
	return &ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			Code:  statusForKind(errs.KindOf(err)),
			Error: err.Error(),
		},
	}
}

func invalidFrame(id int) *ServerFrame {
	return &ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response:  &Response{Code: http.StatusBadRequest, Error: "invalid frame"},
	}
}

func unavailableFrame(id int) *ServerFrame {
	return &ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response:  &Response{Code: http.StatusServiceUnavailable, Error: "service unavailable"},
	}
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidContent:
		return http.StatusBadRequest
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

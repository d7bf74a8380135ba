package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection for one authenticated user. A user
// may hold several at once; each gets its own Client.
type Client struct {
	id       string
	userId   int64
	conn     *websocket.Conn
	hub      *Hub
	registry *Registry
	log      *zap.SugaredLogger

	send chan *ServerFrame

	mu       sync.RWMutex
	channels map[int64]*channelActor

	beat     atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	dropOnce sync.Once
}

func NewClient(userId int64, conn *websocket.Conn, hub *Hub, registry *Registry, log *zap.SugaredLogger) *Client {
	return &Client{
		userId:   userId,
		conn:     conn,
		hub:      hub,
		registry: registry,
		log:      log,
		send:     make(chan *ServerFrame, 256),
		channels: make(map[int64]*channelActor),
		stop:     make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(frame)
			if err != nil {
				c.log.Errorw("serialize frame", "err", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.registry.Remove(c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warnw("ws read", "connection_id", c.id, "err", err)
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Debugw("parse frame", "connection_id", c.id, "err", err)
			c.queueFrame(invalidFrame(0))
			continue
		}

		frame.client = c
		frame.userId = c.userId
		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pl := c.hub.Pipeline()

	switch {
	case frame.Join != nil:
		c.hub.Join(frame)
	case frame.Leave != nil:
		if actor := c.getChannel(frame.Leave.ChannelId); actor != nil {
			actor.leave(frame)
		} else {
			// leaving a channel you're not in is a no-op
			c.queueFrame(okFrame(frame.Id, nil))
		}
	case frame.Post != nil:
		c.dispatchPost(ctx, frame)
	case frame.Edit != nil:
		msg, err := pl.EditMessage(ctx, frame.Edit.MessageId, c.userId, frame.Edit.Content)
		c.reply(frame.Id, msg, err)
	case frame.Delete != nil:
		err := pl.DeleteMessage(ctx, frame.Delete.MessageId, c.userId)
		c.reply(frame.Id, nil, err)
	case frame.SetReaction != nil:
		reaction, err := pl.SetReaction(ctx, frame.SetReaction.MessageId, c.userId, frame.SetReaction.Kind)
		c.reply(frame.Id, reaction, err)
	case frame.ClearReaction != nil:
		err := pl.ClearReaction(ctx, frame.ClearReaction.MessageId, c.userId)
		c.reply(frame.Id, nil, err)
	case frame.Typing != nil:
		c.dispatchTyping(frame)
	case frame.MarkRead != nil:
		err := pl.MarkRead(ctx, frame.MarkRead.ChannelId, c.userId)
		c.reply(frame.Id, nil, err)
	case frame.History != nil:
		history, err := pl.GetHistory(ctx, frame.History.ChannelId, c.userId, frame.History.Cursor, frame.History.Limit)
		c.reply(frame.Id, history, err)
	case frame.Presence != nil:
		c.dispatchPresence(ctx, frame)
	case frame.Heartbeat != nil:
		c.registry.Heartbeat(ctx, c.id)
		if frame.Id != 0 {
			c.queueFrame(okFrame(frame.Id, nil))
		}
	default:
		c.queueFrame(invalidFrame(frame.Id))
	}
}

// dispatchPost resolves the target channel, lazily creating the direct
// channel when the frame addresses a recipient, then hands the frame to
// that channel's actor. Content is validated before the direct channel
// is resolved; a rejected first message must not create the channel.
func (c *Client) dispatchPost(ctx context.Context, frame *ClientFrame) {
	channelId := frame.Post.ChannelId

	if frame.Post.RecipientId != 0 {
		pl := c.hub.Pipeline()
		if err := pl.ValidatePost(pipeline.PostInput{
			Type:        frame.Post.Type,
			Content:     frame.Post.Content,
			ParentId:    frame.Post.ParentId,
			Attachments: frame.Post.Attachments,
		}); err != nil {
			c.queueFrame(errorFrame(frame.Id, err))
			return
		}

		channel, err := pl.EnsureDirect(ctx, c.userId, frame.Post.RecipientId)
		if err != nil {
			c.queueFrame(errorFrame(frame.Id, err))
			return
		}
		channelId = channel.Id
	}

	if channelId == 0 {
		c.queueFrame(invalidFrame(frame.Id))
		return
	}

	c.hub.Submit(channelId, frame)
}

// Typing indicators are ephemeral: only live subscribers hear them and
// nothing is persisted or acknowledged.
func (c *Client) dispatchTyping(frame *ClientFrame) {
	if !c.inChannel(frame.Typing.ChannelId) {
		return
	}

	c.hub.Broadcast(frame.Typing.ChannelId, &types.Event{
		Type:      types.EventTyping,
		ChannelId: frame.Typing.ChannelId,
		Timestamp: Now(),
		Typing: &types.TypingEvent{
			ChannelId: frame.Typing.ChannelId,
			UserId:    c.userId,
			IsTyping:  frame.Typing.IsTyping,
		},
	})
}

func (c *Client) dispatchPresence(ctx context.Context, frame *ClientFrame) {
	switch frame.Presence.Status {
	case types.StatusOnline, types.StatusAway:
	default:
		c.queueFrame(invalidFrame(frame.Id))
		return
	}

	err := c.registry.SetPresence(ctx, c.userId, frame.Presence.Status, frame.Presence.Note)
	c.reply(frame.Id, nil, err)
}

func (c *Client) reply(id int, data any, err error) {
	if err != nil {
		c.queueFrame(errorFrame(id, err))
		return
	}
	c.queueFrame(okFrame(id, data))
}

// queueFrame never blocks. A connection that can't drain its queue is
// force-disconnected rather than allowed to stall a broadcast.
func (c *Client) queueFrame(frame *ServerFrame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.dropOnce.Do(func() {
			c.log.Warnw("outbound queue full, disconnecting", "connection_id", c.id, "user_id", c.userId)
			go c.registry.Remove(c.id)
		})
		return false
	}
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warnw("ws write", "connection_id", c.id, "err", err)
		}
		return false
	}
	return true
}

func (c *Client) touch() {
	c.beat.Store(time.Now().UnixNano())
}

func (c *Client) lastBeat() time.Time {
	return time.Unix(0, c.beat.Load())
}

func (c *Client) addChannel(a *channelActor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[a.channelId] = a
}

func (c *Client) delChannel(channelId int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelId)
}

func (c *Client) getChannel(channelId int64) *channelActor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channelId]
}

func (c *Client) inChannel(channelId int64) bool {
	return c.getChannel(channelId) != nil
}

func (c *Client) channelActors() []*channelActor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	actors := make([]*channelActor, 0, len(c.channels))
	for _, a := range c.channels {
		actors = append(actors, a)
	}
	return actors
}

func (c *Client) detachAll() {
	c.hub.Drop(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = make(map[int64]*channelActor)
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

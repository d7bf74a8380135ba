package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/stats"
	"github.com/wfplatform/chat-service/internal/types"
)

const (
	idleChannelTimeout = 30 * time.Second
	opTimeout          = 10 * time.Second
)

// channelActor owns one channel's live subscription set. All joins,
// leaves and posts for the channel flow through its run loop, which is
// what makes persist-then-broadcast strictly sequential per channel
// while unrelated channels proceed in parallel.
type channelActor struct {
	channelId int64
	hub       *Hub
	log       *zap.SugaredLogger

	joinChan  chan *ClientFrame
	leaveChan chan *leaveReq
	inbound   chan *ClientFrame
	exit      chan struct{}
	done      chan struct{}
	killTimer *time.Timer

	mu      sync.RWMutex
	clients map[*Client]struct{}
	userMap map[int64]map[*Client]struct{}
	closed  bool
}

type leaveReq struct {
	client *Client
	frame  *ClientFrame
}

func newChannelActor(channelId int64, hub *Hub) *channelActor {
	return &channelActor{
		channelId: channelId,
		hub:       hub,
		log:       hub.log,
		joinChan:  make(chan *ClientFrame, 256),
		leaveChan: make(chan *leaveReq, 1024),
		inbound:   make(chan *ClientFrame, 256),
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[int64]map[*Client]struct{}),
	}
}

func (a *channelActor) run() {
	a.killTimer = time.NewTimer(idleChannelTimeout)

	for {
		select {
		case frame := <-a.joinChan:
			a.handleJoin(frame)
		case req := <-a.leaveChan:
			a.handleLeave(req)
		case frame := <-a.inbound:
			a.handlePost(frame)
		case <-a.killTimer.C:
			if a.isClosed() || a.hub.tryUnload(a) {
				close(a.done)
				return
			}
			a.killTimer.Reset(idleChannelTimeout)
		case <-a.exit:
			close(a.done)
			return
		}
	}
}

// enqueue places a frame on one of the actor's queues. Holding mu while
// sending means no frame can land between tryUnload's pending check and
// the closed flag being set, so a closed actor's queues stay empty. A
// closed result tells the caller to re-resolve the actor.
func (a *channelActor) enqueue(queue chan *ClientFrame, frame *ClientFrame) (queued, closed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, true
	}

	select {
	case queue <- frame:
		return true, false
	default:
		return false, false
	}
}

func (a *channelActor) handleJoin(frame *ClientFrame) {
	a.killTimer.Stop()

	c := frame.client
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !a.hub.pl.IsMember(ctx, a.channelId, frame.userId) {
		c.queueFrame(errorFrame(frame.Id, errs.New(errs.KindForbidden, "not a channel member")))
		if a.empty() {
			a.killTimer.Reset(idleChannelTimeout)
		}
		return
	}

	a.addClient(c)
	c.queueFrame(okFrame(frame.Id, map[string]any{"channel_id": a.channelId}))
}

func (a *channelActor) handleLeave(req *leaveReq) {
	a.removeClient(req.client)

	if req.frame != nil {
		req.client.queueFrame(okFrame(req.frame.Id, nil))
	}

	if a.empty() {
		a.killTimer.Reset(idleChannelTimeout)
	}
}

func (a *channelActor) handlePost(frame *ClientFrame) {
	c := frame.client
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msg, err := a.hub.pl.PostMessage(ctx, a.channelId, frame.userId, pipeline.PostInput{
		Type:        frame.Post.Type,
		Content:     frame.Post.Content,
		ParentId:    frame.Post.ParentId,
		Attachments: frame.Post.Attachments,
	})
	if err != nil {
		c.queueFrame(errorFrame(frame.Id, err))
		return
	}

	a.hub.stats.Incr(stats.Messages)
	c.queueFrame(okFrame(frame.Id, msg))
}

// broadcast queues the event on every subscribed connection. Safe from
// any goroutine; a full queue disconnects that client, nobody else.
func (a *channelActor) broadcast(evt *types.Event) {
	frame := eventFrame(evt)

	a.mu.RLock()
	defer a.mu.RUnlock()
	for c := range a.clients {
		c.queueFrame(frame)
	}
}

func (a *channelActor) leave(frame *ClientFrame) {
	select {
	case a.leaveChan <- &leaveReq{client: frame.client, frame: frame}:
	default:
		a.removeClient(frame.client)
		frame.client.queueFrame(okFrame(frame.Id, nil))
	}
}

// detach is the no-reply removal used on connection teardown.
func (a *channelActor) detach(c *Client) {
	select {
	case a.leaveChan <- &leaveReq{client: c}:
	default:
		a.removeClient(c)
	}
}

func (a *channelActor) addClient(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.clients[c] = struct{}{}
	if a.userMap[c.userId] == nil {
		a.userMap[c.userId] = make(map[*Client]struct{})
	}
	a.userMap[c.userId][c] = struct{}{}

	c.addChannel(a)
}

func (a *channelActor) removeClient(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.clients[c]; !ok {
		return
	}

	delete(a.clients, c)
	c.delChannel(a.channelId)

	if userClients, ok := a.userMap[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(a.userMap, c.userId)
		}
	}
}

func (a *channelActor) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *channelActor) empty() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients) == 0
}

func (a *channelActor) signalExit() {
	close(a.exit)
}

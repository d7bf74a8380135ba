package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/stats"
	"github.com/wfplatform/chat-service/internal/types"
)

// Hub maps channels to the connections currently subscribed to them.
// Each live channel is owned by its own actor goroutine so unrelated
// channels never contend (a broadcast storm in one channel cannot
// serialize another). The hub is a fan-out index only; persisted
// membership stays in the store.
type Hub struct {
	log      *zap.SugaredLogger
	registry *Registry
	stats    stats.Provider
	pl       *pipeline.Pipeline

	mu     sync.RWMutex
	actors map[int64]*channelActor

	closed bool
}

func NewHub(log *zap.SugaredLogger, registry *Registry, st stats.Provider) *Hub {
	return &Hub{
		log:      log,
		registry: registry,
		stats:    st,
		actors:   make(map[int64]*channelActor),
	}
}

// BindPipeline wires the pipeline in after construction; the pipeline
// needs the hub as its Broadcaster and the hub needs the pipeline for
// membership checks and posting.
func (h *Hub) BindPipeline(pl *pipeline.Pipeline) {
	h.pl = pl
}

func (h *Hub) Pipeline() *pipeline.Pipeline {
	return h.pl
}

// Join routes a join request to the channel's actor, starting one if
// the channel has no live subscribers yet. An actor that unloaded
// between lookup and enqueue is re-resolved, never silently dropped.
func (h *Hub) Join(frame *ClientFrame) {
	for {
		actor := h.ensureActor(frame.Join.ChannelId)
		if actor == nil {
			frame.client.queueFrame(unavailableFrame(frame.Id))
			return
		}

		queued, closed := actor.enqueue(actor.joinChan, frame)
		if closed {
			continue
		}
		if !queued {
			h.log.Warnw("join queue full", "channel_id", frame.Join.ChannelId)
			frame.client.queueFrame(unavailableFrame(frame.Id))
		}
		return
	}
}

// Submit routes a channel-scoped frame (post) to the owning actor so
// persist-then-broadcast is strictly sequential per channel.
func (h *Hub) Submit(channelId int64, frame *ClientFrame) {
	for {
		actor := h.ensureActor(channelId)
		if actor == nil {
			frame.client.queueFrame(unavailableFrame(frame.Id))
			return
		}

		queued, closed := actor.enqueue(actor.inbound, frame)
		if closed {
			continue
		}
		if !queued {
			h.log.Warnw("inbound queue full", "channel_id", channelId)
			frame.client.queueFrame(unavailableFrame(frame.Id))
		}
		return
	}
}

// Broadcast delivers an event to every connection subscribed to the
// channel. A connection with a full outbound queue is forcibly removed
// via the registry; delivery to the rest is unaffected.
func (h *Hub) Broadcast(channelId int64, evt *types.Event) {
	h.mu.RLock()
	actor, ok := h.actors[channelId]
	h.mu.RUnlock()
	if !ok {
		return
	}

	h.stats.Incr(stats.Broadcasts)
	actor.broadcast(evt)
}

// NotifyUser reaches a user's connections that are not subscribed to
// the event's channel, so Broadcast plus NotifyUser never delivers the
// same event twice to one connection.
func (h *Hub) NotifyUser(userId int64, evt *types.Event) {
	frame := eventFrame(evt)
	for _, c := range h.registry.userClients(userId) {
		if c.inChannel(evt.ChannelId) {
			continue
		}
		c.queueFrame(frame)
	}
}

func (h *Hub) ensureActor(channelId int64) *channelActor {
	h.mu.RLock()
	actor, ok := h.actors[channelId]
	h.mu.RUnlock()
	if ok {
		return actor
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if actor, ok = h.actors[channelId]; ok {
		return actor
	}

	actor = newChannelActor(channelId, h)
	h.actors[channelId] = actor
	h.stats.Incr(stats.LiveChannels)
	go actor.run()
	return actor
}

// tryUnload removes an idle actor. Returns false if a subscriber or a
// queued frame arrived between the idle timeout firing and the unload.
// On success the actor is marked closed under its own lock, so routing
// that raced the unload sees the closed flag and re-resolves instead of
// sending into a dead queue.
func (h *Hub) tryUnload(actor *channelActor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.actors[actor.channelId] != actor {
		return false
	}

	actor.mu.Lock()
	defer actor.mu.Unlock()
	if len(actor.clients) > 0 ||
		len(actor.joinChan) > 0 || len(actor.inbound) > 0 || len(actor.leaveChan) > 0 {
		return false
	}
	actor.closed = true

	delete(h.actors, actor.channelId)
	h.stats.Decr(stats.LiveChannels)
	h.log.Debugw("unloaded idle channel", "channel_id", actor.channelId)
	return true
}

// Drop removes a connection from every channel it subscribed to.
// Called by the client on teardown; leaves no dangling references.
func (h *Hub) Drop(c *Client) {
	for _, actor := range c.channelActors() {
		actor.detach(c)
	}
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	actors := make([]*channelActor, 0, len(h.actors))
	for _, actor := range h.actors {
		actors = append(actors, actor)
	}
	h.actors = make(map[int64]*channelActor)
	h.mu.Unlock()

	for _, actor := range actors {
		actor.mu.Lock()
		actor.closed = true
		actor.mu.Unlock()
		actor.signalExit()
	}
	for _, actor := range actors {
		<-actor.done
	}
}

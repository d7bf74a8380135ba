package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/presence"
	"github.com/wfplatform/chat-service/internal/stats"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/types"
)

// Registry tracks live connections per user and owns presence
// transitions. It is a fan-out index, never durable state: everything
// here can be rebuilt from reconnects.
type Registry struct {
	log      *zap.SugaredLogger
	db       store.Repository
	presence presence.Store
	stats    stats.Provider

	heartbeatInterval time.Duration
	offlineGrace      time.Duration

	mu            sync.Mutex
	conns         map[string]*Client
	byUser        map[int64]map[string]*Client
	offlineTimers map[int64]*time.Timer

	stop chan struct{}
	done chan struct{}
}

func NewRegistry(log *zap.SugaredLogger, db store.Repository, ps presence.Store, st stats.Provider, heartbeatInterval, offlineGrace time.Duration) *Registry {
	return &Registry{
		log:               log,
		db:                db,
		presence:          ps,
		stats:             st,
		heartbeatInterval: heartbeatInterval,
		offlineGrace:      offlineGrace,
		conns:             make(map[string]*Client),
		byUser:            make(map[int64]map[string]*Client),
		offlineTimers:     make(map[int64]*time.Timer),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Admit registers a connection for an authenticated user and marks them
// online. A user may hold any number of simultaneous connections.
func (r *Registry) Admit(ctx context.Context, c *Client) (string, error) {
	if c.userId == 0 {
		return "", errs.New(errs.KindUnauthenticated, "connection has no identity")
	}

	id := uuid.NewString()
	c.id = id
	c.touch()

	r.mu.Lock()
	r.conns[id] = c
	if r.byUser[c.userId] == nil {
		r.byUser[c.userId] = make(map[string]*Client)
	}
	r.byUser[c.userId][id] = c

	// a reconnect within the grace window cancels the pending offline flip
	if timer, ok := r.offlineTimers[c.userId]; ok {
		timer.Stop()
		delete(r.offlineTimers, c.userId)
	}
	first := len(r.byUser[c.userId]) == 1
	r.mu.Unlock()

	r.stats.Incr(stats.Connections)
	r.log.Infow("admitted connection", "connection_id", id, "user_id", c.userId)

	if first {
		if err := r.SetPresence(ctx, c.userId, types.StatusOnline, ""); err != nil {
			r.log.Warnw("set presence on admit", "user_id", c.userId, "err", err)
		}
	} else if err := r.presence.Refresh(ctx, c.userId); err != nil {
		r.log.Warnw("refresh presence on admit", "user_id", c.userId, "err", err)
	}

	return id, nil
}

// Remove drops a connection. Idempotent. Removing a user's last
// connection schedules the offline transition after the grace period so
// reconnect flaps don't flicker presence.
func (r *Registry) Remove(connectionId string) {
	r.mu.Lock()
	c, ok := r.conns[connectionId]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connectionId)

	userConns := r.byUser[c.userId]
	delete(userConns, connectionId)
	last := len(userConns) == 0
	if last {
		delete(r.byUser, c.userId)
		userId := c.userId
		r.offlineTimers[userId] = time.AfterFunc(r.offlineGrace, func() {
			r.flipOffline(userId)
		})
	}
	r.mu.Unlock()

	r.stats.Decr(stats.Connections)
	r.log.Infow("removed connection", "connection_id", connectionId, "user_id", c.userId)

	c.detachAll()
	c.stopClient()
}

func (r *Registry) flipOffline(userId int64) {
	r.mu.Lock()
	delete(r.offlineTimers, userId)
	_, reconnected := r.byUser[userId]
	r.mu.Unlock()
	if reconnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.presence.Clear(ctx, userId); err != nil {
		r.log.Warnw("clear presence", "user_id", userId, "err", err)
	}
	r.fanoutPresence(ctx, types.Presence{
		UserId:    userId,
		Status:    types.StatusOffline,
		UpdatedAt: time.Now().UTC(),
	})
}

// Heartbeat refreshes a connection's liveness and its owner's presence
// TTL. Unknown connection ids are ignored.
func (r *Registry) Heartbeat(ctx context.Context, connectionId string) {
	r.mu.Lock()
	c, ok := r.conns[connectionId]
	r.mu.Unlock()
	if !ok {
		return
	}

	c.touch()
	if err := r.presence.Refresh(ctx, c.userId); err != nil {
		r.log.Warnw("refresh presence", "user_id", c.userId, "err", err)
	}
}

// SetPresence stores the user's status in the TTL cache and tells every
// user who shares a channel with them. No durable state is written.
func (r *Registry) SetPresence(ctx context.Context, userId int64, status types.PresenceStatus, note string) error {
	if err := r.presence.Set(ctx, userId, status, note); err != nil {
		return err
	}

	r.fanoutPresence(ctx, types.Presence{
		UserId:    userId,
		Status:    status,
		Note:      note,
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *Registry) GetPresence(ctx context.Context, userId int64) (types.Presence, error) {
	return r.presence.Get(ctx, userId)
}

func (r *Registry) fanoutPresence(ctx context.Context, p types.Presence) {
	evt := &types.Event{
		Type:      types.EventPresenceChanged,
		Timestamp: p.UpdatedAt,
		Presence:  &p,
	}

	coMembers, err := r.db.ListCoMemberUserIds(ctx, p.UserId)
	if err != nil {
		r.log.Warnw("list co-members for presence", "user_id", p.UserId, "err", err)
		return
	}

	frame := eventFrame(evt)
	// the user's own other devices hear about it too
	for _, userId := range append(coMembers, p.UserId) {
		r.SendToUser(userId, frame)
	}
}

// SendToUser queues a frame on every connection the user holds.
func (r *Registry) SendToUser(userId int64, frame *ServerFrame) {
	for _, c := range r.userClients(userId) {
		c.queueFrame(frame)
	}
}

func (r *Registry) userClients(userId int64) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.byUser[userId]))
	for _, c := range r.byUser[userId] {
		clients = append(clients, c)
	}
	return clients
}

// Run sweeps for connections whose heartbeat has gone stale and
// force-removes them.
func (r *Registry) Run() {
	ticker := time.NewTicker(r.heartbeatInterval / 3)
	defer func() {
		ticker.Stop()
		close(r.done)
	}()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.heartbeatInterval)

	r.mu.Lock()
	var stale []string
	for id, c := range r.conns {
		if c.lastBeat().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.log.Infow("heartbeat timeout", "connection_id", id)
		r.Remove(id)
	}
}

func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		r.Remove(c.id)
	}

	close(r.stop)
	<-r.done
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfplatform/chat-service/internal/config"
	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/events"
	"github.com/wfplatform/chat-service/internal/identity"
	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/presence"
	"github.com/wfplatform/chat-service/internal/server"
	"github.com/wfplatform/chat-service/internal/stats"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/testutil"
	"github.com/wfplatform/chat-service/internal/types"
)

func newTestApp(t *testing.T, db store.Repository) (*ChatApp, *identity.MockVerifier) {
	t.Helper()
	log := testutil.TestLogger(t)

	registry := server.NewRegistry(log, db, presence.NewMemoryStore(time.Minute), stats.Nop{}, 30*time.Second, 30*time.Second)
	hub := server.NewHub(log, registry, stats.Nop{})
	pl := pipeline.New(db, hub, events.NopPublisher{}, pipeline.DefaultPolicy(), log)
	hub.BindPipeline(pl)

	verifier := &identity.MockVerifier{}
	app := NewChatApp(log, hub, registry, verifier, &config.Config{ServerAddr: "localhost:0"})
	t.Cleanup(hub.Shutdown)

	return app, verifier
}

func doRequest(app *ChatApp, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestGetHistoryEndpoint(t *testing.T) {
	t.Run("member reads a page", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		db.On("GetChannelByExternalId", mock.Anything, "abc123").
			Return(types.Channel{Id: 1, ExternalId: "abc123"}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(7)).
			Return(types.Membership{ChannelId: 1, UserId: 7, Role: types.RoleMember, Active: true}, nil)
		db.On("GetMessages", mock.Anything, int64(1), time.Time{}, int64(0), 10).
			Return([]types.Message{{Id: 2, ChannelId: 1}, {Id: 1, ChannelId: 1}}, nil)
		db.On("ListReactions", mock.Anything, []int64{2, 1}).
			Return([]types.Reaction{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/history?channel_id=abc123&limit=10", nil)
		rec := doRequest(app, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var h pipeline.History
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
		assert.Len(t, h.Messages, 2)
	})

	t.Run("non-member is forbidden", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		db.On("GetChannelByExternalId", mock.Anything, "abc123").
			Return(types.Channel{Id: 1, ExternalId: "abc123"}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(7)).
			Return(types.Membership{}, errs.New(errs.KindNotFound, "no rows"))

		req := httptest.NewRequest(http.MethodGet, "/api/history?channel_id=abc123", nil)
		rec := doRequest(app, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown channel", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		db.On("GetChannelByExternalId", mock.Anything, "nope").
			Return(types.Channel{}, errs.New(errs.KindNotFound, "no rows"))

		req := httptest.NewRequest(http.MethodGet, "/api/history?channel_id=nope", nil)
		rec := doRequest(app, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing channel id", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		rec := doRequest(app, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChannelEndpoints(t *testing.T) {
	t.Run("list channels", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		db.On("ListChannelsForUser", mock.Anything, int64(7)).
			Return([]types.ChannelSummary{
				{Channel: types.Channel{Id: 1, Name: "general"}, Role: types.RoleMember, UnreadCount: 3},
			}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
		rec := doRequest(app, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var summaries []types.ChannelSummary
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summaries))
		require.Len(t, summaries, 1)
		assert.Equal(t, 3, summaries[0].UnreadCount)
	})

	t.Run("create channel", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		db.On("CreateChannel", mock.Anything, mock.Anything).
			Return(types.Channel{Id: 1, Name: "eng", Type: types.ChannelDepartment}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels",
			strings.NewReader(`{"name":"eng","type":"department"}`))
		rec := doRequest(app, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var channel types.Channel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&channel))
		assert.Equal(t, "eng", channel.Name)
	})

	t.Run("create channel with bad type", func(t *testing.T) {
		db := &store.MockRepository{}
		app, verifier := newTestApp(t, db)
		verifier.On("VerifyToken", "token").Return(int64(7), nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels",
			strings.NewReader(`{"name":"dm","type":"direct"}`))
		rec := doRequest(app, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPresenceEndpoint(t *testing.T) {
	db := &store.MockRepository{}
	app, verifier := newTestApp(t, db)
	verifier.On("VerifyToken", "token").Return(int64(7), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/presence?user_id=5", nil)
	rec := doRequest(app, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var p types.Presence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, int64(5), p.UserId)
	assert.Equal(t, types.StatusOffline, p.Status, "unknown user reads offline")
}

func TestUnauthenticatedRequest(t *testing.T) {
	db := &store.MockRepository{}
	app, verifier := newTestApp(t, db)
	verifier.On("VerifyToken", "token").Return(int64(0), errs.New(errs.KindUnauthenticated, "invalid token"))

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	rec := doRequest(app, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

package session

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"voice-bridge/backend/internal/constants"
	apperrors "voice-bridge/backend/pkg/errors"
)

func TestRegistry_SecondAcquireReplacesFirst(t *testing.T) {
	h := newHarness(t)

	first := h.dial("user=u1")
	first.mustNext()
	original := h.registry.Lookup("u1")
	require.NotNil(t, original)

	second := h.dial("user=u1")
	assert.True(t, isStatus(constants.StatusConnecting)(second.mustNext()))

	closeErr := first.closeError()
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Session replaced", closeErr.Text)

	<-original.Done()
	assert.Equal(t, 1, h.registry.Count())
	assert.NotSame(t, original, h.registry.Lookup("u1"))
	assert.Equal(t, 2, h.factory.count())
	assert.True(t, h.factory.get(0).isDisconnected())
	assert.False(t, h.factory.get(1).isDisconnected())
}

func TestRegistry_UsersAreIndependent(t *testing.T) {
	h := newHarness(t)

	a := h.dial("user=bob")
	a.mustNext()
	b := h.dial("user=alice")
	b.mustNext()

	assert.Equal(t, []string{"alice", "bob"}, h.registry.UserIDs())
	assert.Equal(t, 2, h.registry.Count())
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.dial("user=u1")
	c.mustNext()

	h.registry.Release("u1")
	h.registry.Release("u1")
	h.registry.Release("nobody")

	closeErr := c.closeError()
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Session stopped", closeErr.Text)
	assert.Equal(t, 0, h.registry.Count())
	assert.Nil(t, h.registry.Lookup("u1"))

	h.registry.locksMu.Lock()
	assert.Empty(t, h.registry.locks)
	h.registry.locksMu.Unlock()
}

func TestRegistry_StopAll(t *testing.T) {
	h := newHarness(t)
	clients := []*testClient{h.dial("user=a"), h.dial("user=b"), h.dial("user=c")}
	for _, c := range clients {
		c.mustNext()
	}
	require.Equal(t, 3, h.registry.Count())

	h.registry.StopAll()

	assert.Equal(t, 0, h.registry.Count())
	for _, c := range clients {
		assert.Equal(t, websocket.CloseNormalClosure, c.closeError().Code)
	}
}

func TestRegistry_ConnectFailureRejects(t *testing.T) {
	h := newHarness(t)
	h.factory.setConnectErr(apperrors.NewUpstreamConnectFailed("wss://provider.test/live", errors.New("refused")))

	c := h.dial("user=u1")
	f := c.mustNext()
	assert.Equal(t, OutError, f.Type)
	assert.Equal(t, "failed to connect to upstream provider", f.Data["message"])
	assert.Equal(t, websocket.CloseInternalServerErr, c.closeError().Code)

	assert.Equal(t, 0, h.registry.Count())
	assert.True(t, h.factory.get(0).isDisconnected())
}

func TestRegistry_MissingProviderKeyRejects(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.Settings.APIKey = "" })

	c := h.dial("user=u1")
	f := c.mustNext()
	assert.Equal(t, OutError, f.Type)
	assert.Equal(t, "Google API Key not configured", f.Data["message"])
	assert.Equal(t, websocket.CloseInternalServerErr, c.closeError().Code)

	assert.Equal(t, 0, h.factory.count())
	assert.Equal(t, 0, h.registry.Count())
}

func TestRegistry_InvalidConfigRejects(t *testing.T) {
	h := newHarness(t)

	c := h.dial("user=u1&mode=karaoke")
	f := c.mustNext()
	assert.Equal(t, OutError, f.Type)
	assert.Equal(t, websocket.ClosePolicyViolation, c.closeError().Code)
	assert.Equal(t, 0, h.factory.count())
}

func TestRegistry_ReplacedSessionDoesNotEvictSuccessor(t *testing.T) {
	h := newHarness(t)
	c := h.dial("user=u1")
	c.mustNext()
	current := h.registry.Lookup("u1")

	stale := &Session{userID: "u1"}
	h.registry.remove(stale)

	assert.Same(t, current, h.registry.Lookup("u1"))
	assert.Equal(t, 1, h.registry.Count())
}

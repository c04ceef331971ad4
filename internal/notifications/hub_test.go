package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestCommentHub_BroadcastReachesRegisteredClients(t *testing.T) {
	hub := NewCommentHub()

	anon, err := hub.Register(0, nil)
	require.NoError(t, err)
	member, err := hub.Register(7, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Count())

	hub.UnregisterClient(anon)
	hub.BroadcastAll([]byte(`{"type":"comment_delete","comment_id":1}`))

	select {
	case msg := <-member.Send:
		assert.JSONEq(t, `{"type":"comment_delete","comment_id":1}`, string(msg))
	case <-time.After(testEventuallyTimeout):
		t.Fatal("registered client did not receive the event")
	}

	_, open := <-anon.Send
	assert.False(t, open, "unregistered client must not receive events")

	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestCommentHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewCommentHub()
	client, err := hub.Register(1, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		hub.UnregisterClient(client)
		hub.UnregisterClient(client)
	})
	assert.Equal(t, 0, hub.Count())
}

func TestCommentHub_ConnectionLimit(t *testing.T) {
	hub := NewCommentHub()
	hub.limit = 2

	_, err := hub.Register(1, nil)
	require.NoError(t, err)
	_, err = hub.Register(0, nil)
	require.NoError(t, err)

	_, err = hub.Register(3, nil)
	assert.ErrorIs(t, err, ErrConnectionLimit)
}

func TestCommentHub_ShutdownRejectsNewClients(t *testing.T) {
	hub := NewCommentHub()
	client, err := hub.Register(1, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))

	_, open := <-client.Send
	assert.False(t, open)
	assert.Equal(t, 0, hub.Count())

	_, err = hub.Register(2, nil)
	assert.ErrorIs(t, err, ErrHubClosed)

	// late unregister from a read pump is tolerated
	assert.NotPanics(t, func() { hub.UnregisterClient(client) })
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewCommentHub()
	client, err := hub.Register(1, nil)
	require.NoError(t, err)

	for i := 0; i < sendBufferSize+10; i++ {
		client.TrySend([]byte("x"))
	}
	assert.Len(t, client.Send, sendBufferSize)

	hub.UnregisterClient(client)
	assert.NotPanics(t, func() { client.TrySend([]byte("late")) })
}

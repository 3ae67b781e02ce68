package wsbus_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carelinkhealth/go-session-client/broadcast"
	"github.com/carelinkhealth/go-session-client/broadcast/wsbus"
)

type hubFixture struct {
	hub    *wsbus.Hub
	server *httptest.Server
	wsURL  string
}

func setupHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	hub := wsbus.NewHub()
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		server.Close()
	})
	return &hubFixture{
		hub:    hub,
		server: server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (f *hubFixture) dial(t *testing.T) *wsbus.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := wsbus.Dial(ctx, f.wsURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func subscribe(t *testing.T, client *wsbus.Client) chan broadcast.Message {
	t.Helper()
	received := make(chan broadcast.Message, 16)
	_, err := client.Subscribe(func(msg broadcast.Message) {
		received <- msg
	})
	require.NoError(t, err)
	return received
}

func receiveOne(t *testing.T, ch chan broadcast.Message) broadcast.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub delivery")
		return broadcast.Message{}
	}
}

func TestHubRelaysBetweenClients(t *testing.T) {
	f := setupHubFixture(t)

	publisher := f.dial(t)
	peer := f.dial(t)

	publisherInbox := subscribe(t, publisher)
	peerInbox := subscribe(t, peer)

	msg := broadcast.Message{
		Type:      broadcast.EventLogoutAll,
		TabID:     "tab-1",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, publisher.Publish(context.Background(), msg))

	// The hub echoes to every connection, sender included; own-tab
	// filtering is the subscriber's job.
	for _, inbox := range []chan broadcast.Message{publisherInbox, peerInbox} {
		got := receiveOne(t, inbox)
		require.Equal(t, broadcast.EventLogoutAll, got.Type)
		require.Equal(t, "tab-1", got.TabID)
	}
}

func TestClientUnsubscribe(t *testing.T) {
	f := setupHubFixture(t)
	client := f.dial(t)

	received := make(chan broadcast.Message, 16)
	unsubscribe, err := client.Subscribe(func(msg broadcast.Message) {
		received <- msg
	})
	require.NoError(t, err)
	unsubscribe()

	require.NoError(t, client.Publish(context.Background(), broadcast.Message{Type: broadcast.EventLogin}))

	select {
	case <-received:
		t.Fatal("received a message after unsubscribing")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientClose(t *testing.T) {
	f := setupHubFixture(t)
	client := f.dial(t)

	require.NoError(t, client.Close())

	err := client.Publish(context.Background(), broadcast.Message{Type: broadcast.EventLogin})
	require.ErrorIs(t, err, wsbus.ClientClosedErr)

	_, err = client.Subscribe(func(broadcast.Message) {})
	require.ErrorIs(t, err, wsbus.ClientClosedErr)

	// Close is idempotent.
	require.NoError(t, client.Close())
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	f := setupHubFixture(t)
	client := f.dial(t)

	require.NoError(t, f.hub.Close())

	// The client's read loop exits once the hub drops the connection, so
	// a publish eventually surfaces a write error.
	require.Eventually(t, func() bool {
		return client.Publish(context.Background(), broadcast.Message{Type: broadcast.EventLogin}) != nil
	}, 2*time.Second, 50*time.Millisecond)
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/stretchr/testify/require"
)

func startTestBus(t *testing.T) (*EmbeddedServer, *Bus) {
	t.Helper()
	srv, err := StartEmbedded(ServerConfig{Port: -1})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	b, err := Connect(srv.ClientURL(), "test-client")
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return srv, b
}

func TestPublishToInboxDeliversToSubscriber(t *testing.T) {
	_, b := startTestBus(t)

	received := make(chan domain.Message, 1)
	unsub, err := b.SubscribeInbox("agent-1", func(msg domain.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.PublishToInbox(domain.Message{
		MessageID: "m-1",
		From:      "agent-2",
		To:        "agent-1",
		Payload:   map[string]interface{}{"text": "hi"},
		SentAt:    time.Now(),
	}))

	select {
	case msg := <-received:
		require.Equal(t, "m-1", msg.MessageID)
		require.Equal(t, "agent-2", msg.From)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbox delivery")
	}
}

func TestSubscribeInboxIsScopedToRecipient(t *testing.T) {
	_, b := startTestBus(t)

	received := make(chan domain.Message, 1)
	unsub, err := b.SubscribeInbox("agent-1", func(msg domain.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.PublishToInbox(domain.Message{MessageID: "m-2", To: "agent-2"}))

	select {
	case <-received:
		t.Fatal("received a message addressed to a different agent")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAwaitReturnsMatchingEvent(t *testing.T) {
	_, b := startTestBus(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = b.PublishEvent(domain.Event{
			Type:    "message",
			Source:  "agent-2",
			Payload: map[string]interface{}{"urgent": true},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	evt, err := b.Await(ctx, domain.EventSelector{Type: "message", Source: "agent-2"})
	require.NoError(t, err)
	require.Equal(t, "message", evt.Type)
	require.Equal(t, true, evt.Payload["urgent"])
}

func TestAwaitAppliesFilterAfterSubjectMatch(t *testing.T) {
	_, b := startTestBus(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.PublishEvent(domain.Event{Type: "status", Payload: map[string]interface{}{"state": "busy"}})
		time.Sleep(20 * time.Millisecond)
		_ = b.PublishEvent(domain.Event{Type: "status", Payload: map[string]interface{}{"state": "idle"}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	evt, err := b.Await(ctx, domain.EventSelector{Type: "status", Filter: map[string]interface{}{"state": "idle"}})
	require.NoError(t, err)
	require.Equal(t, "idle", evt.Payload["state"])
}

func TestAwaitReturnsContextErrorOnTimeout(t *testing.T) {
	_, b := startTestBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := b.Await(ctx, domain.EventSelector{Type: "never-published"})
	require.Error(t, err)
}

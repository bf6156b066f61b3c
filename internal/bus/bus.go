package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	nc "github.com/nats-io/nats.go"
)

// Bus wraps a NATS client connection. Agent inboxes are subjects of the
// form "agent.<id>.inbox" (one subject per agent gives free FIFO ordering
// per publisher, matching the ordering guarantee of spec §5); events are
// published to "event.<type>.<source>", wildcarding either segment with
// NATS's single-token "*" when the selector leaves it unset. Grounded on
// ODSapper-CLIAIRMONITOR's internal/nats/client.go, which wraps the same
// nats.go connection the same way for its own agent traffic.
type Bus struct {
	conn     *nc.Conn
	clientID string
}

// Connect dials the embedded (or external) NATS server at url.
func Connect(url, clientID string) (*Bus, error) {
	conn, err := nc.Connect(url,
		nc.Name(clientID),
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connecting to %s: %w", url, err)
	}
	return &Bus{conn: conn, clientID: clientID}, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	b.conn.Close()
}

func inboxSubject(agentID string) string {
	return "agent." + agentID + ".inbox"
}

func eventSubject(evtType, source string) string {
	if evtType == "" {
		evtType = "*"
	}
	if source == "" {
		source = "*"
	}
	return "event." + evtType + "." + source
}

// envelope is the wire shape of a domain.Message sent over an inbox subject.
type envelope struct {
	MessageID string      `json:"message_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Payload   interface{} `json:"payload"`
	SentAt    time.Time   `json:"sent_at"`
}

// PublishToInbox delivers msg to its recipient's inbox subject. Delivery is
// fire-and-forget at the NATS layer; only a handler registered through
// SubscribeInbox receives it. internal/agents.Registry does not use this
// path: it queues messages in its own in-process bounded inbox.
func (b *Bus) PublishToInbox(msg domain.Message) error {
	data, err := json.Marshal(envelope{
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		Payload:   msg.Payload,
		SentAt:    msg.SentAt,
	})
	if err != nil {
		return fmt.Errorf("bus: encoding message: %w", err)
	}
	return b.conn.Publish(inboxSubject(msg.To), data)
}

// SubscribeInbox delivers every message addressed to agentID to handler,
// in publish order. The returned unsubscribe func stops delivery.
func (b *Bus) SubscribeInbox(agentID string, handler func(domain.Message)) (func() error, error) {
	sub, err := b.conn.Subscribe(inboxSubject(agentID), func(m *nc.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			return
		}
		handler(domain.Message{
			MessageID: env.MessageID,
			From:      env.From,
			To:        env.To,
			Payload:   env.Payload,
			SentAt:    env.SentAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribing inbox %s: %w", agentID, err)
	}
	return sub.Unsubscribe, nil
}

// wireEvent is the wire shape of a domain.Event.
type wireEvent struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
	Published time.Time              `json:"published"`
}

// PublishEvent implements spec §4.8's publish_event: the event is routed
// to every cognition with a matching pending AWAIT, which in this
// transport means publishing once to the event's own (type, source)
// subject — every AWAIT subscribed on a subject that subsumes it (via
// NATS's own wildcard matching) receives a copy.
func (b *Bus) PublishEvent(evt domain.Event) error {
	if evt.Published.IsZero() {
		evt.Published = time.Now()
	}
	data, err := json.Marshal(wireEvent{
		Type:      evt.Type,
		Source:    evt.Source,
		Payload:   evt.Payload,
		Published: evt.Published,
	})
	if err != nil {
		return fmt.Errorf("bus: encoding event: %w", err)
	}
	return b.conn.Publish(eventSubject(evt.Type, evt.Source), data)
}

// Await implements kernel.Bus: it subscribes on the subject pattern
// matching selector's (possibly empty) type/source, applies Matches as an
// in-process filter on every delivery (NATS subjects alone can't express
// the selector's arbitrary Filter equality), and returns the first event
// that satisfies it or ctx's error if it is cancelled first.
func (b *Bus) Await(ctx context.Context, selector domain.EventSelector) (domain.Event, error) {
	subject := eventSubject(selector.Type, selector.Source)

	matched := make(chan domain.Event, 1)
	sub, err := b.conn.Subscribe(subject, func(m *nc.Msg) {
		var we wireEvent
		if err := json.Unmarshal(m.Data, &we); err != nil {
			return
		}
		evt := domain.Event{Type: we.Type, Source: we.Source, Payload: we.Payload, Published: we.Published}
		if !selector.Matches(evt) {
			return
		}
		select {
		case matched <- evt:
		default:
		}
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("bus: subscribing %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	select {
	case evt := <-matched:
		return evt, nil
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	}
}

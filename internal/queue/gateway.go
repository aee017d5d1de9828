// Package queue implements the Message Queue Gateway (C2) over NATS
// JetStream: at-least-once enqueue, ordered batch receive, and explicit
// complete/dead_letter/abandon acknowledgement. JetStream's Ack/Nak/Term
// map directly onto that triad, which is why it was promoted over a
// from-scratch channel-based queue despite the teacher not using NATS
// for this concern (teacher's go.mod already carries nats.go).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/technosupport/intellioptics/internal/ioerrors"
)

// Gateway wraps a JetStream context bound to one stream.
type Gateway struct {
	js     jetstream.JetStream
	stream jetstream.Stream
}

func Connect(ctx context.Context, natsURL, streamName string, subjects []string) (*Gateway, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EQueueFailure, "queue.Connect", "failed to connect to NATS", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EQueueFailure, "queue.Connect", "failed to init jetstream", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: subjects,
	})
	if err != nil {
		return nil, ioerrors.New(ioerrors.EQueueFailure, "queue.Connect", "failed to create stream", err)
	}
	return &Gateway{js: js, stream: stream}, nil
}

// Enqueue publishes payload (marshaled to JSON) to queueName with
// at-least-once delivery.
func (g *Gateway) Enqueue(ctx context.Context, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return ioerrors.New(ioerrors.EBadInput, "queue.Enqueue", "failed to marshal payload", err)
	}
	if _, err := g.js.Publish(ctx, queueName, body); err != nil {
		return ioerrors.New(ioerrors.EQueueFailure, "queue.Enqueue", "publish failed", err)
	}
	return nil
}

// Message is one received, not-yet-acknowledged item.
type Message struct {
	Subject string
	Data    []byte
	raw     jetstream.Msg
}

// Complete acknowledges successful processing.
func (m *Message) Complete(ctx context.Context) error {
	return m.raw.Ack()
}

// DeadLetter marks a permanently-unprocessable message (parse failure,
// per §4.2/§7) so it is not redelivered.
func (m *Message) DeadLetter(ctx context.Context) error {
	return m.raw.Term()
}

// Abandon releases the message back for redelivery (a transient
// failure).
func (m *Message) Abandon(ctx context.Context) error {
	return m.raw.Nak()
}

// Receiver is a single consumer bound to one queue; message completion
// MUST occur on the receiver that read it (§5 Shared resources).
type Receiver struct {
	consumer jetstream.Consumer
}

func (g *Gateway) NewReceiver(ctx context.Context, queueName, durableName string) (*Receiver, error) {
	consumer, err := g.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: queueName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
	})
	if err != nil {
		return nil, ioerrors.New(ioerrors.EQueueFailure, "queue.NewReceiver", "failed to create consumer", err)
	}
	return &Receiver{consumer: consumer}, nil
}

// ReceiveBatch fetches up to max messages, waiting up to timeout for the
// first, per §4.2's receive_batch(max, timeout).
func (r *Receiver) ReceiveBatch(ctx context.Context, max int, timeout time.Duration) ([]*Message, error) {
	batch, err := r.consumer.Fetch(max, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, ioerrors.New(ioerrors.EQueueFailure, "queue.ReceiveBatch", "fetch failed", err)
	}

	var out []*Message
	deadline := time.After(timeout)
loop:
	for {
		select {
		case msg, ok := <-batch.Messages():
			if !ok {
				break loop
			}
			out = append(out, &Message{Subject: msg.Subject(), Data: msg.Data(), raw: msg})
			if len(out) >= max {
				break loop
			}
		case <-deadline:
			break loop
		case <-ctx.Done():
			break loop
		}
	}
	return out, nil
}

// UnmarshalOrDeadLetter decodes msg.Data into v; on parse failure it
// dead-letters the message itself (§4.2: "Failure to parse a message
// MUST dead-letter") and returns a descriptive error to the caller.
func UnmarshalOrDeadLetter(ctx context.Context, msg *Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		_ = msg.DeadLetter(ctx)
		return ioerrors.New(ioerrors.EBadInput, "queue.UnmarshalOrDeadLetter", fmt.Sprintf("malformed payload on %s", msg.Subject), err)
	}
	return nil
}

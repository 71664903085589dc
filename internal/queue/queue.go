// Package queue carries inbound workflow requests from producers to the
// ingestion process. Delivery is at-least-once: a message that is received
// but never acknowledged is handed out again.
package queue

import (
	"context"
)

// Message is one delivered queue message.
type Message struct {
	// ID is assigned by the queue and is stable across redeliveries.
	ID string
	// Body is the payload exactly as it was sent.
	Body string
	// Redelivered is set when the message was handed out before and never
	// acknowledged.
	Redelivered bool
}

// Queue is an at-least-once message queue.
type Queue interface {
	// Receive blocks until a message is available, the queue's block
	// interval elapses, or ctx is done. It returns a nil message and a nil
	// error when nothing arrived in time.
	Receive(ctx context.Context) (*Message, error)
	// Ack removes a message from the queue's pending set.
	Ack(ctx context.Context, msg *Message) error
	// Send enqueues a message and returns its id.
	Send(ctx context.Context, body string) (string, error)
}

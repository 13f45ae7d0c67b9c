// Package queue provides a database-backed message broker used to hand jobs
// from the API gateway to worker nodes. Messages are leased rather than
// removed on receive, so a crashed consumer returns its message to the queue
// once the lease expires.
package queue

import (
	"context"
	"time"
)

// TopicJobs carries job ids from the API gateway to worker nodes.
const TopicJobs = "ocr_jobs"

// Message is a leased queue entry. It must be acknowledged or rejected by the
// consumer before its lease runs out.
type Message struct {
	ID       uint
	Topic    string
	Payload  []byte
	Attempts int
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Receive leases the oldest pending message on the topic for the given
	// duration. It returns ErrEmpty when no message is pending.
	Receive(ctx context.Context, topic string, leaseFor time.Duration) (*Message, error)
	Ack(ctx context.Context, id uint) error
	// Nack returns the message to the pending state for another consumer.
	Nack(ctx context.Context, id uint) error
	// ReleaseExpired returns messages with expired leases to the pending
	// state and reports how many were released.
	ReleaseExpired(ctx context.Context, topic string) (int64, error)
	// HasMessage reports whether any message with the given payload sits on
	// the topic, leased or not.
	HasMessage(ctx context.Context, topic string, payload []byte) (bool, error)
	InitialMigration(ctx context.Context) error
}

// Package broker defines the broker client the consumer session is built on:
// it owns network connections, topic metadata and fetch requests. Sarama
// implements it on top of github.com/IBM/sarama. The interfaces exist so that
// the session lifecycle can be tested without a kafka cluster.
package broker

import (
	"context"
	"strings"

	"github.com/mkocikowski/kafkaqueue"
)

// Connector opens connections to a kafka cluster.
type Connector interface {
	// Connect to the cluster through any of the addrs. Returns error
	// matching errors.ErrConnection if no broker could be reached.
	Connect(ctx context.Context, addrs []string) (Conn, error)
}

// Conn is an open connection to the cluster. Topics and queues created from
// a Conn must be closed before the Conn.
type Conn interface {
	OpenTopic(name string) (Topic, error)
	NewQueue(capacity int) (Queue, error)
	Close() error
}

// Topic starts and stops partition fetch streams. A started stream puts
// fetched messages (and error-flagged messages) on the queue it was started
// with until it is stopped. Streams must be stopped before the topic is
// closed.
type Topic interface {
	Name() string
	StartFetch(partition int32, offset int64, q Queue) error
	StopFetch(partition int32) error
	Close() error
}

// Queue is implemented by queue.Queue.
type Queue interface {
	Put(ctx context.Context, m *kafkaqueue.Message) error
	Poll(ctx context.Context) (*kafkaqueue.Message, error)
	Len() int
	Close()
}

// ParseBrokers splits a list of host:port addresses delimited by commas,
// semicolons or whitespace.
func ParseBrokers(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}

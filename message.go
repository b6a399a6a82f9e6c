package kafkaqueue

import (
	"errors"
	"time"

	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

// Message is a single record fetched from a topic partition. Key is nil when
// the record has no key. Messages put on the fetch queue by the broker client
// may carry an error (Err != nil) instead of a payload: these are never
// returned by consumer.Session as ordinary messages.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Err       error `json:",omitempty"`
}

// IsPartitionEOF is true for end of partition markers.
func (m *Message) IsPartitionEOF() bool {
	return errors.Is(m.Err, kqerrors.ErrPartitionEOF)
}

// IsStreamEnded is true for the last message of a partition fetch stream the
// broker client shut down on its own.
func (m *Message) IsStreamEnded() bool {
	return errors.Is(m.Err, kqerrors.ErrStreamEnded)
}

// NewPartitionEOF returns end of partition marker for the given partition.
// Offset is the offset of the next record to be fetched.
func NewPartitionEOF(topic string, partition int32, offset int64) *Message {
	return &Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Err:       kqerrors.ErrPartitionEOF,
	}
}

// NewFetchError returns an error-flagged message for the given partition.
func NewFetchError(topic string, partition int32, err error) *Message {
	return &Message{
		Topic:     topic,
		Partition: partition,
		Offset:    -1,
		Err:       kqerrors.Wrap(err),
	}
}

// NewStreamEnded returns the message put on the queue after the broker client
// shut down the fetch stream of the partition.
func NewStreamEnded(topic string, partition int32) *Message {
	return NewFetchError(topic, partition, kqerrors.ErrStreamEnded)
}

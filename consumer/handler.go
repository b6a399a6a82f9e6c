package consumer

import (
	"github.com/mkocikowski/kafkaqueue"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

// MessageHandlerFunc decides what Session.Consume does with an error-flagged
// message (m.Err != nil): an end of partition marker or a fetch error. If the
// handler returns nil the message is dropped and Consume keeps polling. If it
// returns an error, Consume returns that error. Error-flagged messages are
// never returned as payload.
type MessageHandlerFunc func(m *kafkaqueue.Message) error

// DefaultHandleMessage drops end of partition markers and returns fetch errors
// as *errors.PartitionError with Kind errors.ErrFetch. When the partition fetch
// stream ended the returned error also matches errors.ErrStreamEnded.
func DefaultHandleMessage(m *kafkaqueue.Message) error {
	if m.IsPartitionEOF() {
		return nil
	}
	return fetchError(m)
}

// StrictHandleMessage returns end of partition markers (Kind
// errors.ErrPartitionEOF) as well as fetch errors. Use it when the caller needs
// to know that it caught up with a partition.
func StrictHandleMessage(m *kafkaqueue.Message) error {
	if m.IsPartitionEOF() {
		return &kqerrors.PartitionError{
			Kind:      kqerrors.ErrPartitionEOF,
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		}
	}
	return fetchError(m)
}

func fetchError(m *kafkaqueue.Message) error {
	return &kqerrors.PartitionError{
		Kind:      kqerrors.ErrFetch,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Err:       m.Err,
	}
}

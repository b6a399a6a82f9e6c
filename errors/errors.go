// Package errors defines the errors returned by kafkaqueue packages. All
// errors created here marshal to JSON as strings, so that they can be
// embedded in structs that get logged.
//
// Errors carry a kind (one of the Err* values below). Check the kind with the
// standard library errors.Is:
//
//	if errors.Is(err, kqerrors.ErrConnection) { ... }
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// Malformed or mismatched arguments, or reuse of a single-use value.
	ErrConfiguration = New("configuration error")
	// No broker could be reached.
	ErrConnection = New("connection error")
	// Topic or queue could not be allocated.
	ErrResource = New("resource error")
	// A partition fetch stream could not be started.
	ErrFetchStart = New("fetch start error")
	// Non-fatal failure while tearing down a session.
	ErrTeardown = New("teardown warning")
	// A record delivered by the broker client carried an error.
	ErrFetch = New("fetch error")
	// End of partition marker: the fetch stream caught up with the high
	// water mark. Not an error condition, the stream keeps fetching.
	ErrPartitionEOF = New("partition end of data")
	// Operation on a closed session or queue.
	ErrClosed = New("closed")
	// The broker client shut down a partition fetch stream on its own, for
	// example after the start offset went out of range. Nothing more will be
	// fetched from the partition unless it is started again. Matches ErrFetch.
	ErrStreamEnded = Kindf(ErrFetch, "stream ended")
)

// New returns an instance of JsonError.
func New(message string) error {
	return &JsonError{error: errors.New(message)}
}

// Format is analogous to fmt.Errorf returning instance of JsonError.
func Format(format string, v ...interface{}) error {
	return &JsonError{fmt.Errorf(format, v...)}
}

// Kindf is Format with the message prefixed by kind. Returned error matches
// kind and any %w operand with errors.Is.
func Kindf(kind error, format string, v ...interface{}) error {
	return Format("%w: "+format, append([]interface{}{kind}, v...)...)
}

// Wrap err, returning instance of JsonError. If err is nil, return nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*JsonError); ok {
		return err
	}
	return &JsonError{error: err}
}

// JsonError wraps error and implements MarshalJSON so that errors that are
// parts of structs are properly serialized.
type JsonError struct {
	error
}

func (e *JsonError) Unwrap() error {
	return e.error
}

func (e *JsonError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}

// PartitionError is an error that concerns a single topic partition: failure
// to start or stop its fetch stream, or an error-flagged record fetched from
// it. Offset is the start offset for ErrFetchStart (which can be one of the
// -1 latest and -2 earliest sentinels), and the offset of the record otherwise
// (-1 when not known).
type PartitionError struct {
	Kind      error
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *PartitionError) Error() string {
	s := fmt.Sprintf("%v: topic %s partition %d", e.Kind, e.Topic, e.Partition)
	switch {
	case e.Kind == ErrFetchStart && e.Offset == -1:
		s += " offset latest"
	case e.Kind == ErrFetchStart && e.Offset == -2:
		s += " offset earliest"
	case e.Offset >= 0:
		s += fmt.Sprintf(" offset %d", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *PartitionError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *PartitionError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}

package fetchset

import (
	"time"
)

// Fetch records the lifecycle of a single partition fetch stream: when it was
// started and from which offset, when it was stopped, and the errors (if any).
// Errors marshal to JSON as strings.
type Fetch struct {
	Topic      string
	Partition  int32
	Offset     int64
	Started    time.Time
	StartError error `json:",omitempty"`
	Stopped    time.Time
	StopError  error `json:",omitempty"`
}

// Running is true for streams that were started and not yet stopped.
func (f *Fetch) Running() bool {
	return f.StartError == nil && !f.Started.IsZero() && f.Stopped.IsZero()
}

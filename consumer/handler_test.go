package consumer

import (
	"errors"
	"testing"

	"github.com/mkocikowski/kafkaqueue"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

func TestUnitDefaultHandleMessage(t *testing.T) {
	if err := DefaultHandleMessage(kafkaqueue.NewPartitionEOF("foo", 1, 10)); err != nil {
		t.Fatal(err)
	}
	cause := errors.New("not leader for partition")
	err := DefaultHandleMessage(kafkaqueue.NewFetchError("foo", 1, cause))
	if !errors.Is(err, kqerrors.ErrFetch) || !errors.Is(err, cause) {
		t.Fatal(err)
	}
	if s := err.Error(); s != "fetch error: topic foo partition 1: not leader for partition" {
		t.Fatal(s)
	}
}

func TestUnitStrictHandleMessage(t *testing.T) {
	err := StrictHandleMessage(kafkaqueue.NewPartitionEOF("foo", 1, 10))
	if !errors.Is(err, kqerrors.ErrPartitionEOF) {
		t.Fatal(err)
	}
	if s := err.Error(); s != "partition end of data: topic foo partition 1 offset 10" {
		t.Fatal(s)
	}
	err = StrictHandleMessage(kafkaqueue.NewFetchError("foo", 1, errors.New("bar")))
	if !errors.Is(err, kqerrors.ErrFetch) {
		t.Fatal(err)
	}
}

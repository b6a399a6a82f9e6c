package fetchset

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mkocikowski/kafkaqueue/broker"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

type mockFetcher struct {
	started   []int32
	stopped   []int32
	failStart map[int32]error
	failStop  map[int32]error
}

func (*mockFetcher) Name() string { return "foo" }

func (f *mockFetcher) StartFetch(p int32, _ int64, _ broker.Queue) error {
	if err := f.failStart[p]; err != nil {
		return err
	}
	f.started = append(f.started, p)
	return nil
}

func (f *mockFetcher) StopFetch(p int32) error {
	f.stopped = append(f.stopped, p)
	return f.failStop[p]
}

func TestUnitSnapshotIsCopy(t *testing.T) {
	partitions := []int32{0, 1}
	s := New(&mockFetcher{}, partitions, nil)
	partitions[0] = 9
	if p := s.Partitions(); !reflect.DeepEqual(p, []int32{0, 1}) {
		t.Fatal(p)
	}
	p := s.Partitions()
	p[1] = 9
	if p := s.Partitions(); !reflect.DeepEqual(p, []int32{0, 1}) {
		t.Fatal(p)
	}
}

func TestUnitStartStop(t *testing.T) {
	f := &mockFetcher{}
	s := New(f, []int32{2, 0, 1}, nil)
	for _, p := range []int32{0, 1, 2} {
		if err := s.Start(p, 100, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Start(0, 100, nil); !errors.Is(err, kqerrors.ErrConfiguration) {
		t.Fatal(err)
	}
	if err := s.Start(3, 100, nil); !errors.Is(err, kqerrors.ErrConfiguration) {
		t.Fatal(err)
	}
	if a := s.Active(); !reflect.DeepEqual(a, []int32{2, 0, 1}) {
		t.Fatal(a)
	}
	if err := s.Stop(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(0); !errors.Is(err, kqerrors.ErrConfiguration) {
		t.Fatal(err)
	}
	if err := s.StopAll(); err != nil {
		t.Fatal(err)
	}
	// stop all goes in snapshot order
	if !reflect.DeepEqual(f.stopped, []int32{0, 2, 1}) {
		t.Fatal(f.stopped)
	}
	if a := s.Active(); len(a) != 0 {
		t.Fatal(a)
	}
	// stopped partition can be started again
	if err := s.Start(0, 200, nil); err != nil {
		t.Fatal(err)
	}
}

func TestUnitStartError(t *testing.T) {
	f := &mockFetcher{failStart: map[int32]error{1: errors.New("leader not available")}}
	s := New(f, []int32{0, 1}, nil)
	if err := s.Start(0, 0, nil); err != nil {
		t.Fatal(err)
	}
	err := s.Start(1, 200, nil)
	if !errors.Is(err, kqerrors.ErrFetchStart) {
		t.Fatal(err)
	}
	var pe *kqerrors.PartitionError
	if !errors.As(err, &pe) || pe.Partition != 1 || pe.Offset != 200 || pe.Topic != "foo" {
		t.Fatal(err)
	}
	if a := s.Active(); !reflect.DeepEqual(a, []int32{0}) {
		t.Fatal(a)
	}
	// failed partitions are not stopped
	if err := s.StopAll(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.stopped, []int32{0}) {
		t.Fatal(f.stopped)
	}
}

func TestUnitStopAllErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := &mockFetcher{failStop: map[int32]error{
		0: errors.New("foo"),
		2: errors.New("bar"),
	}}
	s := New(f, []int32{0, 1, 2}, zap.New(core))
	for _, p := range []int32{0, 1, 2} {
		s.Start(p, 0, nil)
	}
	err := s.StopAll()
	if !errors.Is(err, kqerrors.ErrTeardown) {
		t.Fatal(err)
	}
	// never short circuits
	if !reflect.DeepEqual(f.stopped, []int32{0, 1, 2}) {
		t.Fatal(f.stopped)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatal(n)
	}
	if n := logs.FilterMessage("fetch stop failed").Len(); n != 2 {
		t.Fatal(n)
	}
	if a := s.Active(); len(a) != 0 {
		t.Fatal(a)
	}
}

func TestUnitFetches(t *testing.T) {
	f := &mockFetcher{failStart: map[int32]error{1: errors.New("bar")}}
	s := New(f, []int32{0, 1, 2}, nil)
	s.Start(0, 10, nil)
	s.Start(1, 20, nil)
	s.Stop(0)
	fetches := s.Fetches()
	if len(fetches) != 2 {
		t.Fatal(fetches)
	}
	if f := fetches[0]; f.Partition != 0 || f.Offset != 10 || f.Stopped.IsZero() || f.Running() {
		t.Fatalf("%+v", f)
	}
	if f := fetches[1]; f.Partition != 1 || f.StartError == nil || f.Running() {
		t.Fatalf("%+v", f)
	}
	b, err := json.Marshal(fetches[1])
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]interface{}
	json.Unmarshal(b, &v)
	if s := v["StartError"]; s != "fetch start error: topic foo partition 1 offset 20: bar" {
		t.Fatal(string(b))
	}
}

func TestUnitEnded(t *testing.T) {
	f := &mockFetcher{}
	s := New(f, []int32{0, 1}, nil)
	s.Start(0, 0, nil)
	s.Start(1, 0, nil)
	s.Ended(1, kqerrors.ErrStreamEnded)
	if p := s.Active(); !reflect.DeepEqual(p, []int32{0}) {
		t.Fatal(p)
	}
	if err := s.StopAll(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.stopped, []int32{0}) {
		t.Fatal(f.stopped)
	}
	fetches := s.Fetches()
	if e := fetches[1].StopError; !errors.Is(e, kqerrors.ErrStreamEnded) || fetches[1].Stopped.IsZero() {
		t.Fatalf("%+v", fetches[1])
	}
	if e := fetches[0].StopError; e != nil {
		t.Fatal(e)
	}
	// ended partition can be started again
	if err := s.Start(1, 5, nil); err != nil {
		t.Fatal(err)
	}
	if p := s.Active(); !reflect.DeepEqual(p, []int32{1}) {
		t.Fatal(p)
	}
	s.Ended(0, kqerrors.ErrStreamEnded) // not running, no-op
	if fetches := s.Fetches(); fetches[0].StopError != nil {
		t.Fatalf("%+v", fetches[0])
	}
}

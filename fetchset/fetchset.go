// Package fetchset keeps track of partition fetch streams of a single topic.
// The Set is created with a fixed snapshot of partition ids; only those can be
// started, and StopAll stops exactly the ones that were started.
package fetchset

import (
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mkocikowski/kafkaqueue/broker"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

// Fetcher is implemented by broker.Topic.
type Fetcher interface {
	Name() string
	StartFetch(partition int32, offset int64, q broker.Queue) error
	StopFetch(partition int32) error
}

type Set struct {
	fetcher    Fetcher
	partitions []int32
	log        *zap.Logger
	//
	sync.Mutex
	fetches map[int32]*Fetch // last fetch for each partition
}

// New set for the partitions. The partitions slice is copied, later changes to
// it have no effect on the set.
func New(f Fetcher, partitions []int32, log *zap.Logger) *Set {
	if log == nil {
		log = zap.NewNop()
	}
	p := make([]int32, len(partitions))
	copy(p, partitions)
	return &Set{
		fetcher:    f,
		partitions: p,
		log:        log.Named("fetchset"),
		fetches:    make(map[int32]*Fetch),
	}
}

func (s *Set) member(partition int32) bool {
	for _, p := range s.partitions {
		if p == partition {
			return true
		}
	}
	return false
}

// Start fetching partition from offset, putting messages on q. Returns
// *errors.PartitionError with Kind errors.ErrFetchStart if the fetcher fails.
func (s *Set) Start(partition int32, offset int64, q broker.Queue) error {
	s.Lock()
	defer s.Unlock()
	topic := s.fetcher.Name()
	if !s.member(partition) {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "partition %d of topic %s not in fetch set", partition, topic)
	}
	if f := s.fetches[partition]; f != nil && f.Running() {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "partition %d of topic %s already started", partition, topic)
	}
	f := &Fetch{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Started:   time.Now().UTC(),
	}
	s.fetches[partition] = f
	if err := s.fetcher.StartFetch(partition, offset, q); err != nil {
		f.StartError = &kqerrors.PartitionError{
			Kind:      kqerrors.ErrFetchStart,
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			Err:       err,
		}
		s.log.Error("fetch start failed",
			zap.String("topic", topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
			zap.Error(err),
		)
		return f.StartError
	}
	s.log.Debug("fetch started",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Stop fetching partition. Partition is forgotten even if the fetcher fails,
// in which case returned error is *errors.PartitionError with Kind
// errors.ErrTeardown.
func (s *Set) Stop(partition int32) error {
	s.Lock()
	defer s.Unlock()
	return s.stop(partition)
}

func (s *Set) stop(partition int32) error {
	f := s.fetches[partition]
	if f == nil || !f.Running() {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "partition %d of topic %s not started", partition, s.fetcher.Name())
	}
	f.Stopped = time.Now().UTC()
	if err := s.fetcher.StopFetch(partition); err != nil {
		f.StopError = &kqerrors.PartitionError{
			Kind:      kqerrors.ErrTeardown,
			Topic:     f.Topic,
			Partition: partition,
			Offset:    -1,
			Err:       err,
		}
		s.log.Warn("fetch stop failed",
			zap.String("topic", f.Topic),
			zap.Int32("partition", partition),
			zap.Error(err),
		)
		return f.StopError
	}
	s.log.Debug("fetch stopped", zap.String("topic", f.Topic), zap.Int32("partition", partition))
	return nil
}

// Ended records that the fetcher shut down the partition stream on its own.
// The partition is no longer running and StopAll skips it. The fetch record
// keeps err as StopError. No-op if the partition is not running.
func (s *Set) Ended(partition int32, err error) {
	s.Lock()
	defer s.Unlock()
	f := s.fetches[partition]
	if f == nil || !f.Running() {
		return
	}
	f.Stopped = time.Now().UTC()
	f.StopError = &kqerrors.PartitionError{
		Kind:      kqerrors.ErrFetch,
		Topic:     f.Topic,
		Partition: partition,
		Offset:    -1,
		Err:       err,
	}
	s.log.Warn("fetch ended", zap.String("topic", f.Topic), zap.Int32("partition", partition), zap.Error(err))
}

// StopAll stops every running partition, in the order the partitions were
// given to New. All partitions are stopped even if some fail; the failures
// are combined with multierr.
func (s *Set) StopAll() error {
	s.Lock()
	defer s.Unlock()
	var err error
	for _, p := range s.partitions {
		if f := s.fetches[p]; f == nil || !f.Running() {
			continue
		}
		err = multierr.Append(err, s.stop(p))
	}
	return err
}

// Partitions returns a copy of the partition snapshot.
func (s *Set) Partitions() []int32 {
	p := make([]int32, len(s.partitions))
	copy(p, s.partitions)
	return p
}

// Active returns running partitions in snapshot order.
func (s *Set) Active() []int32 {
	s.Lock()
	defer s.Unlock()
	var active []int32
	for _, p := range s.partitions {
		if f := s.fetches[p]; f != nil && f.Running() {
			active = append(active, p)
		}
	}
	return active
}

// Fetches returns copies of the last fetch record of each partition that was
// ever started, in snapshot order.
func (s *Set) Fetches() []Fetch {
	s.Lock()
	defer s.Unlock()
	var fetches []Fetch
	for _, p := range s.partitions {
		if f := s.fetches[p]; f != nil {
			fetches = append(fetches, *f)
		}
	}
	return fetches
}

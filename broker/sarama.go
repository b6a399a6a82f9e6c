package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mkocikowski/kafkaqueue"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
	"github.com/mkocikowski/kafkaqueue/queue"
)

const (
	DefaultRetryBackoff = 250 * time.Millisecond
	DefaultStopTimeout  = 10 * time.Second
)

// DefaultConfig returns sarama config with a random client id and consumer
// errors enabled.
func DefaultConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = "kafkaqueue-" + uuid.NewString()
	c.Consumer.Return.Errors = true
	return c
}

// Sarama is a Connector implemented with github.com/IBM/sarama. Zero value is
// usable.
type Sarama struct {
	// Nil means DefaultConfig(). Connect uses a copy with
	// Consumer.Return.Errors set, fetch errors are delivered as error-flagged
	// messages. The config itself is not modified.
	Config *sarama.Config
	// Number of times Connect retries after the first attempt fails.
	Retries int
	// Delay before the first retry, grows exponentially. Zero means
	// DefaultRetryBackoff.
	RetryBackoff time.Duration
	// Put an end of partition marker on the queue every time a partition
	// stream catches up with the partition high water mark, and once when a
	// stream starts at or past the high water mark.
	PartitionEOF bool
	// How long StopFetch waits for a partition stream to shut down. Zero
	// means DefaultStopTimeout.
	StopTimeout time.Duration
	Logger      *zap.Logger
}

func (s *Sarama) Connect(ctx context.Context, addrs []string) (Conn, error) {
	log := nopIfNil(s.Logger).Named("broker")
	if len(addrs) == 0 {
		return nil, kqerrors.Kindf(kqerrors.ErrConnection, "no broker addresses")
	}
	conf := DefaultConfig()
	if s.Config != nil {
		c := *s.Config
		c.Consumer.Return.Errors = true
		conf = &c
	}
	var client sarama.Client
	connect := func() error {
		c, err := sarama.NewClient(addrs, conf)
		if err != nil {
			var confErr sarama.ConfigurationError
			if errors.As(err, &confErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	interval := s.RetryBackoff
	if interval <= 0 {
		interval = DefaultRetryBackoff
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(interval),
		backoff.WithMaxElapsedTime(0),
	)
	var retries uint64
	if s.Retries > 0 {
		retries = uint64(s.Retries)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
	notify := func(err error, d time.Duration) {
		log.Warn("connect failed, retrying",
			zap.Strings("brokers", addrs),
			zap.Duration("delay", d),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrConnection, "brokers %v: %w", addrs, err)
	}
	log.Info("connected",
		zap.Strings("brokers", addrs),
		zap.String("client_id", conf.ClientID),
		zap.Stringer("version", conf.Version),
	)
	stopTimeout := s.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &saramaConn{client: client, eof: s.PartitionEOF, stopTimeout: stopTimeout, log: log}, nil
}

type saramaConn struct {
	client      sarama.Client
	eof         bool
	stopTimeout time.Duration
	log         *zap.Logger
}

// OpenTopic fails if the topic does not exist.
func (c *saramaConn) OpenTopic(name string) (Topic, error) {
	partitions, err := c.client.Partitions(name)
	if err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrResource, "topic %q: %w", name, err)
	}
	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrResource, "consumer for topic %q: %w", name, err)
	}
	c.log.Debug("opened topic", zap.String("topic", name), zap.Int32s("partitions", partitions))
	t := newSaramaTopic(name, consumer, c.eof, c.stopTimeout, c.log)
	t.offsets = c.client
	return t, nil
}

func (c *saramaConn) NewQueue(capacity int) (Queue, error) {
	if c.client.Closed() {
		return nil, kqerrors.Kindf(kqerrors.ErrResource, "queue: %w", sarama.ErrClosedClient)
	}
	q, err := queue.New(capacity)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (c *saramaConn) Close() error {
	return c.client.Close()
}

// offsetGetter is implemented by sarama.Client.
type offsetGetter interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type saramaTopic struct {
	name        string
	consumer    sarama.Consumer
	offsets     offsetGetter // nil disables eof markers at stream start
	eof         bool
	stopTimeout time.Duration
	log         *zap.Logger
	//
	sync.Mutex
	streams map[int32]*stream // nil after Close
}

func newSaramaTopic(name string, c sarama.Consumer, eof bool, stopTimeout time.Duration, log *zap.Logger) *saramaTopic {
	return &saramaTopic{
		name:        name,
		consumer:    c,
		eof:         eof,
		stopTimeout: stopTimeout,
		log:         log,
		streams:     make(map[int32]*stream),
	}
}

func (t *saramaTopic) Name() string {
	return t.name
}

func (t *saramaTopic) StartFetch(partition int32, offset int64, q Queue) error {
	t.Lock()
	defer t.Unlock()
	if t.streams == nil {
		return kqerrors.ErrClosed
	}
	if s, ok := t.streams[partition]; ok {
		if !s.exited() {
			return fmt.Errorf("partition %d already started", partition)
		}
		t.stop(s) // returns at once
	}
	startEOF := int64(-1)
	if t.eof && t.offsets != nil {
		start, hwm, err := t.resolve(partition, offset)
		if err != nil {
			return err
		}
		if start >= hwm {
			startEOF = start
		}
	}
	pc, err := t.consumer.ConsumePartition(t.name, partition, offset)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		topic:     t.name,
		partition: partition,
		pc:        pc,
		q:         q,
		eof:       t.eof,
		startEOF:  startEOF,
		log:       t.log,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	t.streams[partition] = s
	go s.run(ctx)
	t.log.Debug("started fetch", zap.String("topic", t.name), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

// resolve the start offset sentinels, and get the partition high water mark.
func (t *saramaTopic) resolve(partition int32, offset int64) (int64, int64, error) {
	hwm, err := t.offsets.GetOffset(t.name, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("high water mark: %w", err)
	}
	switch offset {
	case sarama.OffsetNewest:
		return hwm, hwm, nil
	case sarama.OffsetOldest:
		oldest, err := t.offsets.GetOffset(t.name, partition, sarama.OffsetOldest)
		if err != nil {
			return 0, 0, fmt.Errorf("oldest offset: %w", err)
		}
		return oldest, hwm, nil
	}
	return offset, hwm, nil
}

// StopFetch stops the partition stream. Stopping a stream that the broker
// client already shut down is not an error.
func (t *saramaTopic) StopFetch(partition int32) error {
	t.Lock()
	s, ok := t.streams[partition]
	delete(t.streams, partition)
	t.Unlock()
	if !ok {
		return fmt.Errorf("partition %d not started", partition)
	}
	return t.stop(s)
}

func (t *saramaTopic) stop(s *stream) error {
	if err := s.stop(t.stopTimeout); err != nil {
		return err
	}
	if s.dropped > 0 {
		t.log.Debug("discarded messages of stopped stream",
			zap.String("topic", t.name),
			zap.Int32("partition", s.partition),
			zap.Int("count", s.dropped),
		)
	}
	return nil
}

// Close stops any streams still running and releases the consumer. The
// underlying client stays open.
func (t *saramaTopic) Close() error {
	t.Lock()
	streams := t.streams
	t.streams = nil
	t.Unlock()
	if streams == nil {
		return kqerrors.ErrClosed
	}
	var err error
	for p, s := range streams {
		if !s.exited() {
			t.log.Warn("closing topic with running stream", zap.String("topic", t.name), zap.Int32("partition", p))
		}
		err = multierr.Append(err, t.stop(s))
	}
	return multierr.Append(err, t.consumer.Close())
}

// stream forwards messages and errors of a single sarama partition consumer
// to the queue.
type stream struct {
	topic     string
	partition int32
	pc        sarama.PartitionConsumer
	q         Queue
	eof       bool
	startEOF  int64 // offset of eof marker sent before anything else, -1 for none
	log       *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	dropped   int // read only after done is closed
}

// run until both pc channels are closed. Once ctx is canceled puts fail
// immediately and remaining messages are discarded. If the channels close
// while ctx is not canceled, sarama gave up on the partition (for example
// ErrOffsetOutOfRange): the last message put on the queue is end of stream.
func (s *stream) run(ctx context.Context) {
	defer close(s.done)
	if s.startEOF >= 0 {
		s.put(ctx, kafkaqueue.NewPartitionEOF(s.topic, s.partition, s.startEOF))
	}
	messages, errs := s.pc.Messages(), s.pc.Errors()
	for messages != nil || errs != nil {
		select {
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			s.put(ctx, fromSarama(m))
			if s.eof && m.Offset+1 >= s.pc.HighWaterMarkOffset() {
				s.put(ctx, kafkaqueue.NewPartitionEOF(s.topic, s.partition, m.Offset+1))
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.put(ctx, kafkaqueue.NewFetchError(s.topic, s.partition, e.Err))
		}
	}
	if ctx.Err() != nil {
		return
	}
	s.log.Warn("fetch stream ended", zap.String("topic", s.topic), zap.Int32("partition", s.partition))
	s.put(ctx, kafkaqueue.NewStreamEnded(s.topic, s.partition))
}

// exited is true once run returned.
func (s *stream) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) put(ctx context.Context, m *kafkaqueue.Message) {
	if ctx.Err() != nil {
		s.dropped++
		return
	}
	if err := s.q.Put(ctx, m); err != nil {
		s.dropped++
	}
}

func (s *stream) stop(timeout time.Duration) error {
	s.cancel()
	s.pc.AsyncClose()
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("stream did not stop within %v", timeout)
	}
}

func fromSarama(m *sarama.ConsumerMessage) *kafkaqueue.Message {
	return &kafkaqueue.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Timestamp,
	}
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

package consumer

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mkocikowski/kafkaqueue"
	"github.com/mkocikowski/kafkaqueue/broker"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
	"github.com/mkocikowski/kafkaqueue/fetchset"
	"github.com/mkocikowski/kafkaqueue/offsets"
)

var tracer = otel.Tracer("github.com/mkocikowski/kafkaqueue/consumer")

type state int

const (
	stateNew state = iota
	stateStarted
	stateClosed
)

// Session consumes a static set of partitions of a single topic. Set the
// public fields, call Start once, call Consume until done, then call Close.
// A Session is not safe for concurrent use: all methods must be called from
// one goroutine at a time, and in particular Close must not be called while
// Consume is blocked in another goroutine.
type Session struct {
	// Kafka bootstrap: comma, semicolon or whitespace delimited list of
	// host:port addresses.
	Bootstrap string
	Topic     string
	// Nil means &broker.Sarama{} with Logger.
	Connector broker.Connector
	// Capacity of the fetch queue. Zero means queue.DefaultCapacity.
	QueueSize int
	// What to do with error-flagged messages. Nil means DefaultHandleMessage.
	HandleMessage MessageHandlerFunc
	Logger        *zap.Logger
	Metrics       *Metrics
	//
	state      state
	log        *zap.Logger
	partitions []int32
	conn       broker.Conn
	topic      broker.Topic
	queue      broker.Queue
	fetches    *fetchset.Set
}

// Start connects to the cluster, opens the topic and the fetch queue, and
// starts fetching partitionIDs[i] from startOffsets[i]. The two slices must be
// of equal length. Start can be called only once, even if it fails. If it
// fails, everything opened so far is closed before it returns. The returned
// error matches (errors.Is) one of errors.ErrConfiguration,
// errors.ErrConnection, errors.ErrResource, errors.ErrFetchStart.
func (s *Session) Start(ctx context.Context, partitionIDs []int32, startOffsets []int64) error {
	if s.state != stateNew {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "session can be started only once")
	}
	s.state = stateStarted
	if s.log = s.Logger; s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("consumer")
	ctx, span := tracer.Start(ctx, "consumer.Session.Start",
		trace.WithAttributes(
			attribute.String("topic", s.Topic),
			attribute.Int("partitions", len(partitionIDs)),
		))
	defer span.End()
	if err := s.start(ctx, partitionIDs, startOffsets); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("session start failed", zap.String("topic", s.Topic), zap.Error(err))
		s.teardown() // warnings are logged
		return err
	}
	s.log.Info("session started",
		zap.String("topic", s.Topic),
		zap.Int32s("partitions", partitionIDs),
		zap.Int64s("offsets", startOffsets),
	)
	return nil
}

func (s *Session) start(ctx context.Context, partitionIDs []int32, startOffsets []int64) error {
	brokers := broker.ParseBrokers(s.Bootstrap)
	if err := validate(s.Topic, brokers, partitionIDs, startOffsets); err != nil {
		return err
	}
	s.partitions = make([]int32, len(partitionIDs))
	copy(s.partitions, partitionIDs)
	//
	connector := s.Connector
	if connector == nil {
		connector = &broker.Sarama{Logger: s.Logger}
	}
	conn, err := connector.Connect(ctx, brokers)
	if err != nil {
		return ensureKind(kqerrors.ErrConnection, err)
	}
	s.conn = conn
	topic, err := conn.OpenTopic(s.Topic)
	if err != nil {
		return ensureKind(kqerrors.ErrResource, err)
	}
	s.topic = topic
	s.fetches = fetchset.New(topic, s.partitions, s.Logger)
	q, err := conn.NewQueue(s.QueueSize)
	if err != nil {
		return ensureKind(kqerrors.ErrResource, err)
	}
	s.queue = q
	for i, p := range partitionIDs {
		err := s.fetches.Start(p, startOffsets[i], q)
		s.Metrics.fetchStart(s.Topic, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func validate(topic string, brokers []string, partitionIDs []int32, startOffsets []int64) error {
	if topic == "" {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "topic not set")
	}
	if len(brokers) == 0 {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "no broker addresses")
	}
	if len(partitionIDs) != len(startOffsets) {
		return kqerrors.Kindf(kqerrors.ErrConfiguration,
			"%d partition ids but %d start offsets", len(partitionIDs), len(startOffsets))
	}
	seen := make(map[int32]bool, len(partitionIDs))
	for i, p := range partitionIDs {
		if p < 0 {
			return kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid partition id %d", p)
		}
		if seen[p] {
			return kqerrors.Kindf(kqerrors.ErrConfiguration, "duplicate partition id %d", p)
		}
		seen[p] = true
		if !offsets.Valid(startOffsets[i]) {
			return kqerrors.Kindf(kqerrors.ErrConfiguration,
				"invalid start offset %d for partition %d", startOffsets[i], p)
		}
	}
	return nil
}

func ensureKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return kqerrors.Kindf(kind, "%w", err)
}

// Consume returns the next message, waiting up to timeout for one to arrive.
// Zero timeout polls without waiting. If no message arrived in time, Consume
// returns nil message and nil error. Messages from a single partition are
// returned in offset order. Error-flagged messages are passed to
// HandleMessage and never returned as messages. On a closed session Consume
// returns errors.ErrClosed.
func (s *Session) Consume(timeout time.Duration) (*kafkaqueue.Message, error) {
	if timeout < 0 {
		return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "negative timeout %v", timeout)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.ConsumeContext(ctx)
}

// ConsumeContext is Consume bounded by ctx instead of a timeout. When ctx
// deadline passes it returns nil message and nil error; when ctx is canceled
// it returns ctx.Err().
func (s *Session) ConsumeContext(ctx context.Context) (*kafkaqueue.Message, error) {
	switch s.state {
	case stateNew:
		return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "session not started")
	case stateClosed:
		return nil, kqerrors.ErrClosed
	}
	handle := s.HandleMessage
	if handle == nil {
		handle = DefaultHandleMessage
	}
	for {
		m, err := s.queue.Poll(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.Metrics.timeout(s.Topic)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if m.Err == nil {
			s.Metrics.message(m.Topic, m.Partition)
			s.Metrics.queueDepth(s.Topic, s.queue.Len())
			return m, nil
		}
		if m.IsPartitionEOF() {
			s.Metrics.partitionEOF(m.Topic, m.Partition)
			s.log.Debug("end of partition",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
		} else if m.IsStreamEnded() {
			s.Metrics.fetchError(m.Topic, m.Partition)
			s.fetches.Ended(m.Partition, m.Err)
			s.log.Error("partition fetch stream ended",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
			)
		} else {
			s.Metrics.fetchError(m.Topic, m.Partition)
			s.log.Warn("fetch error",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Error(m.Err),
			)
		}
		if err := handle(m); err != nil {
			return nil, err
		}
	}
}

// Partitions returns a copy of the partition ids the session was started
// with. Nil before Start and after Close.
func (s *Session) Partitions() []int32 {
	if s.partitions == nil {
		return nil
	}
	p := make([]int32, len(s.partitions))
	copy(p, s.partitions)
	return p
}

// Fetches returns records of partition fetch streams started by the session.
// The records stay available after Close, with stop times and errors.
func (s *Session) Fetches() []fetchset.Fetch {
	if s.fetches == nil {
		return nil
	}
	return s.fetches.Fetches()
}

// Close stops all partition fetch streams, then closes the topic, the fetch
// queue, and the connection, in that order. Failures do not stop the
// teardown; they are logged and returned combined, matching
// errors.ErrTeardown. Calling Close more than once is safe, only the first
// call does anything.
func (s *Session) Close() error {
	switch s.state {
	case stateClosed:
		return nil
	case stateNew:
		s.state = stateClosed
		return nil
	}
	_, span := tracer.Start(context.Background(), "consumer.Session.Close",
		trace.WithAttributes(attribute.String("topic", s.Topic)))
	defer span.End()
	err := s.teardown()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.log.Info("session closed",
		zap.String("topic", s.Topic),
		zap.Int("warnings", len(multierr.Errors(err))),
	)
	return err
}

func (s *Session) teardown() error {
	s.state = stateClosed
	var err error
	if s.topic != nil {
		if s.fetches != nil {
			n := len(s.fetches.Active())
			err = multierr.Append(err, s.fetches.StopAll())
			s.Metrics.fetchStops(s.Topic, n)
		}
		if e := s.topic.Close(); e != nil {
			err = multierr.Append(err, kqerrors.Kindf(kqerrors.ErrTeardown, "closing topic %s: %w", s.Topic, e))
		}
		s.topic = nil
	}
	if s.queue != nil {
		s.queue.Close()
		s.queue = nil
	}
	if s.conn != nil {
		if e := s.conn.Close(); e != nil {
			err = multierr.Append(err, kqerrors.Kindf(kqerrors.ErrTeardown, "closing connection: %w", e))
		}
		s.conn = nil
	}
	s.partitions = nil
	for _, e := range multierr.Errors(err) {
		s.log.Warn("teardown warning", zap.String("topic", s.Topic), zap.Error(e))
		s.Metrics.teardownWarning(s.Topic)
	}
	return err
}

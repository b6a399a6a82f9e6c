package consumer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collected by a Session. A nil *Metrics is valid and records
// nothing. One Metrics can be shared by sessions consuming different topics.
type Metrics struct {
	Messages         *prometheus.CounterVec
	PollTimeouts     *prometheus.CounterVec
	PartitionEOFs    *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	FetchStarts      *prometheus.CounterVec
	FetchStops       *prometheus.CounterVec
	TeardownWarnings *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
}

// NewMetrics registers session metrics with reg. Nil reg means
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "messages_total",
			Help: "Messages returned by Consume",
		}, []string{"topic", "partition"}),
		PollTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "poll_timeouts_total",
			Help: "Consume calls that returned no message within timeout",
		}, []string{"topic"}),
		PartitionEOFs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "partition_eof_total",
			Help: "End of partition markers polled from the fetch queue",
		}, []string{"topic", "partition"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "fetch_errors_total",
			Help: "Error-flagged records polled from the fetch queue",
		}, []string{"topic", "partition"}),
		FetchStarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "fetch_starts_total",
			Help: "Partition fetch stream starts by result",
		}, []string{"topic", "result"}),
		FetchStops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "fetch_stops_total",
			Help: "Partition fetch streams stopped on teardown",
		}, []string{"topic"}),
		TeardownWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "teardown_warnings_total",
			Help: "Non-fatal failures while closing sessions",
		}, []string{"topic"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kafkaqueue", Subsystem: "consumer", Name: "queue_depth",
			Help: "Messages waiting in the fetch queue after the last Consume",
		}, []string{"topic"}),
	}
}

func partitionLabel(p int32) string {
	return strconv.FormatInt(int64(p), 10)
}

func (m *Metrics) message(topic string, partition int32) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

func (m *Metrics) timeout(topic string) {
	if m == nil {
		return
	}
	m.PollTimeouts.WithLabelValues(topic).Inc()
}

func (m *Metrics) partitionEOF(topic string, partition int32) {
	if m == nil {
		return
	}
	m.PartitionEOFs.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

func (m *Metrics) fetchError(topic string, partition int32) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

func (m *Metrics) fetchStart(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchStarts.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) fetchStops(topic string, n int) {
	if m == nil {
		return
	}
	m.FetchStops.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) teardownWarning(topic string) {
	if m == nil {
		return
	}
	m.TeardownWarnings.WithLabelValues(topic).Inc()
}

func (m *Metrics) queueDepth(topic string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(topic).Set(float64(n))
}

package consumer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/mkocikowski/kafkaqueue/broker"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
	"github.com/mkocikowski/kafkaqueue/offsets"
)

// bootstrap returns the broker list for integration tests, skipping the test
// when there is none
func bootstrap(t *testing.T) string {
	t.Helper()
	b := os.Getenv("KAFKAQUEUE_BOOTSTRAP")
	if b == "" {
		t.Skip("KAFKAQUEUE_BOOTSTRAP not set")
	}
	return b
}

func createTopic(t *testing.T, addrs []string, partitions int32) string {
	t.Helper()
	topic := fmt.Sprintf("test-%x", rand.Uint32())
	admin, err := sarama.NewClusterAdmin(addrs, sarama.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()
	detail := &sarama.TopicDetail{NumPartitions: partitions, ReplicationFactor: 1}
	if err := admin.CreateTopic(topic, detail, false); err != nil {
		t.Fatal(err)
	}
	return topic
}

func produce(t *testing.T, addrs []string, topic string, partition int32, values ...string) {
	t.Helper()
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.Partitioner = sarama.NewManualPartitioner
	p, err := sarama.NewSyncProducer(addrs, conf)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	for _, v := range values {
		m := &sarama.ProducerMessage{Topic: topic, Partition: partition, Value: sarama.StringEncoder(v)}
		if _, _, err := p.SendMessage(m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIntegrationSession(t *testing.T) {
	addrs := broker.ParseBrokers(bootstrap(t))
	topic := createTopic(t, addrs, 2)
	produce(t, addrs, topic, 0, "foo", "bar")
	produce(t, addrs, topic, 1, "monkey", "banana")
	//
	s := &Session{
		Bootstrap:     bootstrap(t),
		Topic:         topic,
		Connector:     &broker.Sarama{PartitionEOF: true, Retries: 3},
		HandleMessage: StrictHandleMessage,
		Logger:        zaptest.NewLogger(t),
	}
	if err := s.Start(context.Background(), []int32{0, 1}, []int64{offsets.Earliest, 1}); err != nil {
		t.Fatal(err)
	}
	values := map[string]bool{}
	eofs := 0
	deadline := time.Now().Add(10 * time.Second)
	for (len(values) < 3 || eofs < 2) && time.Now().Before(deadline) {
		m, err := s.Consume(time.Second)
		if errors.Is(err, kqerrors.ErrPartitionEOF) {
			eofs++
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if m != nil {
			values[string(m.Value)] = true
		}
	}
	for _, v := range []string{"foo", "bar", "banana"} {
		if !values[v] {
			t.Fatal(values)
		}
	}
	if values["monkey"] {
		t.Fatal("partition 1 should start at offset 1")
	}
	if eofs < 2 {
		t.Fatal(eofs)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

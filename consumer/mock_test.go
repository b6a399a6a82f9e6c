package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mkocikowski/kafkaqueue/broker"
	"github.com/mkocikowski/kafkaqueue/queue"
)

// recorder keeps the order in which broker calls were made
type recorder struct {
	sync.Mutex
	events []string
}

func (r *recorder) add(format string, v ...interface{}) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, v...))
}

func (r *recorder) get() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.events...)
}

// reset returns recorded events and forgets them
func (r *recorder) reset() []string {
	r.Lock()
	defer r.Unlock()
	e := r.events
	r.events = nil
	return e
}

type mockConnector struct {
	recorder
	failConnect    error
	failTopic      error
	failQueue      error
	failStart      map[int32]error
	failStop       map[int32]error
	failTopicClose error
	failConnClose  error
	queue          *mockQueue
}

func (c *mockConnector) Connect(ctx context.Context, addrs []string) (broker.Conn, error) {
	c.add("connect %s", strings.Join(addrs, ","))
	if c.failConnect != nil {
		return nil, c.failConnect
	}
	return &mockConn{c}, nil
}

type mockConn struct {
	c *mockConnector
}

func (c *mockConn) OpenTopic(name string) (broker.Topic, error) {
	c.c.add("open %s", name)
	if c.c.failTopic != nil {
		return nil, c.c.failTopic
	}
	return &mockTopic{c: c.c, name: name}, nil
}

func (c *mockConn) NewQueue(capacity int) (broker.Queue, error) {
	c.c.add("queue %d", capacity)
	if c.c.failQueue != nil {
		return nil, c.c.failQueue
	}
	q, err := queue.New(capacity)
	if err != nil {
		return nil, err
	}
	c.c.queue = &mockQueue{Queue: q, c: c.c}
	return c.c.queue, nil
}

func (c *mockConn) Close() error {
	c.c.add("close conn")
	return c.c.failConnClose
}

type mockTopic struct {
	c    *mockConnector
	name string
}

func (t *mockTopic) Name() string { return t.name }

func (t *mockTopic) StartFetch(partition int32, offset int64, q broker.Queue) error {
	t.c.add("start %d %d", partition, offset)
	return t.c.failStart[partition]
}

func (t *mockTopic) StopFetch(partition int32) error {
	t.c.add("stop %d", partition)
	return t.c.failStop[partition]
}

func (t *mockTopic) Close() error {
	t.c.add("close topic")
	return t.c.failTopicClose
}

type mockQueue struct {
	*queue.Queue
	c *mockConnector
}

func (q *mockQueue) Close() {
	q.c.add("close queue")
	q.Queue.Close()
}

// Consumer reads records from a static list of partitions of a topic, and
// writes them to stdout as json lines, one record per line. It runs until
// interrupted. This is meant as an example of how to use the library. Run with
// --help for flags; every flag can also be set in a config file or with a
// KAFKAQUEUE_ environment variable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mkocikowski/kafkaqueue/config"
	"github.com/mkocikowski/kafkaqueue/consumer"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
	"github.com/mkocikowski/kafkaqueue/logging"
)

var (
	projectName  string
	buildVersion string
	buildTime    string
)

type record struct {
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       string `json:",omitempty"`
	Value     string
}

func main() {
	flags := config.Flags(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	path, _ := flags.GetString("config")
	c, err := config.Load(path, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(c.Log.Level, c.Log.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()
	log.Info("starting",
		zap.String("project", projectName),
		zap.String("version", buildVersion),
		zap.String("build_time", buildTime),
		zap.String("go", runtime.Version()),
	)
	if err := run(c, log); err != nil {
		log.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(c *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	//
	var metrics *consumer.Metrics
	if c.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = consumer.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: c.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}
	connector, err := c.Connector()
	if err != nil {
		return err
	}
	connector.Logger = log
	startOffsets, err := c.StartOffsets()
	if err != nil {
		return err
	}
	s := &consumer.Session{
		Bootstrap: strings.Join(c.Brokers, ","),
		Topic:     c.Topic,
		Connector: connector,
		QueueSize: c.QueueSize,
		Logger:    log,
		Metrics:   metrics,
	}
	if err := s.Start(ctx, c.Partitions, startOffsets); err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("close", zap.Error(err))
		}
		for _, f := range s.Fetches() {
			log.Debug("fetch", zap.Any("fetch", f))
		}
	}()
	out := json.NewEncoder(os.Stdout)
	for ctx.Err() == nil {
		m, err := s.Consume(c.PollTimeout)
		if err != nil {
			if errors.Is(err, kqerrors.ErrStreamEnded) {
				// nothing more will come from the partition
				return err
			}
			var pe *kqerrors.PartitionError
			if errors.As(err, &pe) {
				// the partition stream keeps running after other fetch errors
				continue
			}
			return err
		}
		if m == nil {
			continue
		}
		r := &record{
			Partition: m.Partition,
			Offset:    m.Offset,
			Timestamp: m.Timestamp,
			Key:       string(m.Key),
			Value:     string(m.Value),
		}
		if err := out.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Package config loads cmd/consumer configuration from defaults, an optional
// config file (yaml, json or toml), KAFKAQUEUE_ environment variables, and
// command line flags, in increasing order of precedence. Nested keys map to
// environment variables with dots replaced by underscores: kafka.version is
// KAFKAQUEUE_KAFKA_VERSION. Lists given as strings are comma separated.
package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mkocikowski/kafkaqueue/broker"
	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
	"github.com/mkocikowski/kafkaqueue/offsets"
)

const EnvPrefix = "KAFKAQUEUE"

type Config struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Partitions []int32  `mapstructure:"partitions"`
	// One per partition: number, "earliest" or "latest". Empty means
	// "latest" for every partition.
	Offsets      []string      `mapstructure:"offsets"`
	QueueSize    int           `mapstructure:"queue_size"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PartitionEOF bool          `mapstructure:"partition_eof"`
	Kafka        KafkaConfig   `mapstructure:"kafka"`
	Log          LogConfig     `mapstructure:"log"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
}

type KafkaConfig struct {
	// Kafka protocol version, for example "2.8.0". Empty means sarama
	// default.
	Version string `mapstructure:"version"`
	// Empty means random.
	ClientID       string `mapstructure:"client_id"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

type MetricsConfig struct {
	// Address for the prometheus http endpoint. Empty disables it.
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]interface{}{
	"brokers":               []string{},
	"topic":                 "",
	"partitions":            []string{},
	"offsets":               []string{},
	"queue_size":            0,
	"poll_timeout":          "1s",
	"partition_eof":         false,
	"kafka.version":         "",
	"kafka.client_id":       "",
	"kafka.connect_retries": 3,
	"log.level":             "info",
	"log.dev":               false,
	"metrics.addr":          "",
}

// flagName for config key: kafka.client_id is --kafka-client-id.
func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Flags returns flag set with a flag for every config key, plus --config.
func Flags(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "config file (yaml, json or toml)")
	f.StringSlice("brokers", nil, "comma separated list of host:port broker addresses")
	f.String("topic", "", "topic to consume")
	f.StringSlice("partitions", nil, "comma separated list of partition ids")
	f.StringSlice("offsets", nil, "comma separated start offsets, one per partition (number, earliest, latest)")
	f.Int(flagName("queue_size"), 0, "fetch queue capacity (0 for default)")
	f.Duration(flagName("poll_timeout"), time.Second, "how long a single poll waits for a message")
	f.Bool(flagName("partition_eof"), false, "report reaching the end of a partition")
	f.String(flagName("kafka.version"), "", "kafka protocol version")
	f.String(flagName("kafka.client_id"), "", "kafka client id (random if empty)")
	f.Int(flagName("kafka.connect_retries"), 3, "connection attempts after the first one fails")
	f.String(flagName("log.level"), "info", "log level")
	f.Bool(flagName("log.dev"), false, "human readable logs")
	f.String(flagName("metrics.addr"), "", "address to serve prometheus metrics on (disabled if empty)")
	return f
}

// Load config. Path is the config file, empty for none. Flags not nil are
// bound to their config keys (see Flags); only flags explicitly set override
// other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "reading config file %q: %w", path, err)
		}
	}
	if flags != nil {
		for key := range defaults {
			if f := flags.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "binding flag %s: %w", f.Name, err)
				}
			}
		}
	}
	c := &Config{}
	if err := decode(v.AllSettings(), c); err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		DecodeHook:       hook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

func (c *Config) Validate() error {
	var brokers []string
	for _, b := range c.Brokers {
		brokers = append(brokers, broker.ParseBrokers(b)...)
	}
	c.Brokers = brokers
	if len(c.Brokers) == 0 {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "brokers not set")
	}
	if c.Topic == "" {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "topic not set")
	}
	if len(c.Offsets) != 0 && len(c.Offsets) != len(c.Partitions) {
		return kqerrors.Kindf(kqerrors.ErrConfiguration,
			"%d partitions but %d offsets", len(c.Partitions), len(c.Offsets))
	}
	if _, err := offsets.ParseList(c.Offsets); err != nil {
		return err
	}
	if c.QueueSize < 0 {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid queue size %d", c.QueueSize)
	}
	if c.PollTimeout <= 0 {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid poll timeout %v", c.PollTimeout)
	}
	if c.Kafka.ConnectRetries < 0 {
		return kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid connect retries %d", c.Kafka.ConnectRetries)
	}
	if c.Kafka.Version != "" {
		if _, err := sarama.ParseKafkaVersion(c.Kafka.Version); err != nil {
			return kqerrors.Kindf(kqerrors.ErrConfiguration, "kafka version: %w", err)
		}
	}
	return nil
}

// StartOffsets returns parsed start offset for each partition.
func (c *Config) StartOffsets() ([]int64, error) {
	if len(c.Offsets) == 0 {
		o := make([]int64, len(c.Partitions))
		for i := range o {
			o[i] = offsets.Latest
		}
		return o, nil
	}
	return offsets.ParseList(c.Offsets)
}

// SaramaConfig based on broker.DefaultConfig.
func (c *Config) SaramaConfig() (*sarama.Config, error) {
	conf := broker.DefaultConfig()
	if c.Kafka.ClientID != "" {
		conf.ClientID = c.Kafka.ClientID
	}
	if c.Kafka.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Kafka.Version)
		if err != nil {
			return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "kafka version: %w", err)
		}
		conf.Version = v
	}
	if err := conf.Validate(); err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "sarama config: %w", err)
	}
	return conf, nil
}

// Connector for consumer.Session.
func (c *Config) Connector() (*broker.Sarama, error) {
	conf, err := c.SaramaConfig()
	if err != nil {
		return nil, err
	}
	return &broker.Sarama{
		Config:       conf,
		Retries:      c.Kafka.ConnectRetries,
		PartitionEOF: c.PartitionEOF,
	}, nil
}

// Package logging builds the zap logger used by cmd/consumer. Library
// packages do not build loggers, they take a *zap.Logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

// New logger at level ("debug", "info", "warn", "error"; empty means
// "info"). Dev logger writes human readable lines to stderr, otherwise JSON
// with sampling.
func New(level string, dev bool) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid log level %q", level)
	}
	conf := buildConfig(dev)
	conf.Level = zap.NewAtomicLevelAt(lvl)
	l, err := conf.Build()
	if err != nil {
		return nil, kqerrors.Format("building logger: %w", err)
	}
	return l, nil
}

func buildConfig(dev bool) zap.Config {
	var conf zap.Config
	if dev {
		conf = zap.NewDevelopmentConfig()
	} else {
		conf = zap.NewProductionConfig()
		conf.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	ec := &conf.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return conf
}

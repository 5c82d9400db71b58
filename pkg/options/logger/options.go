// Package logger exposes the kart-io logger configuration as CLI flags
// for the documind binary.
package logger

import (
	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"github.com/kart-io/logger/option"
	"github.com/spf13/pflag"
)

// Options wraps option.LogOption with the defaults this service ships with.
type Options struct {
	*option.LogOption
}

// NewOptions creates Options tuned for a long-running service:
// structured JSON to stdout, INFO level.
func NewOptions() *Options {
	opt := option.DefaultLogOption()
	opt.Format = "json"
	opt.Level = "INFO"
	opt.OutputPaths = []string{"stdout"}
	return &Options{LogOption: opt}
}

// AddFlags registers logger flags on the given FlagSet. Sub-options must
// be materialized first, see Complete.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	_ = o.Complete()

	fs.StringVar(&o.Engine, "log.engine", o.Engine, "Logging engine (zap|slog)")
	fs.StringVar(&o.Level, "log.level", o.Level, "Log level (DEBUG|INFO|WARN|ERROR|FATAL)")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log format (json|console)")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Where log lines are written")
	fs.BoolVar(&o.Development, "log.development", o.Development, "Enable development mode")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit caller file:line from log lines")
	fs.BoolVar(&o.DisableStacktrace, "log.disable-stacktrace", o.DisableStacktrace, "Omit stacktraces from error logs")

	fs.IntVar(&o.Rotation.MaxSize, "log.rotation.max-size", 100, "Rotate the log file after this many MB")
	fs.IntVar(&o.Rotation.MaxAge, "log.rotation.max-age", 15, "Days to keep rotated log files")
	fs.IntVar(&o.Rotation.MaxBackups, "log.rotation.max-backups", 30, "Number of rotated log files to keep")
	fs.BoolVar(&o.Rotation.Compress, "log.rotation.compress", true, "Gzip rotated log files")
}

// Validate validates the logger options.
func (o *Options) Validate() error {
	return o.LogOption.Validate()
}

// Complete materializes the optional sub-structs so flag registration and
// config unmarshalling never hit a nil pointer.
func (o *Options) Complete() error {
	if o.OTLP == nil {
		o.OTLP = &option.OTLPOption{}
	}
	if o.Rotation == nil {
		o.Rotation = &option.RotationOption{}
	}
	return nil
}

// CreateLogger creates a new logger instance based on the options.
func (o *Options) CreateLogger() (core.Logger, error) {
	return logger.New(o.LogOption)
}

// Init builds the logger and installs it as the process-wide default.
func (o *Options) Init() error {
	log, err := o.CreateLogger()
	if err != nil {
		return err
	}
	logger.SetGlobal(log)
	return nil
}

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogrusSink is the default text/JSON sink, adapted from the teacher's
// pkg/logger/logger.go logrus.Logger embed.
type LogrusSink struct {
	name   string
	logger *logrus.Logger
}

// NewLogrusSink builds a LogrusSink writing to out in the given format
// ("json" or "text").
func NewLogrusSink(name, format string, out io.Writer) *LogrusSink {
	l := logrus.New()
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		}})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)
	l.SetLevel(logrus.DebugLevel)
	return &LogrusSink{name: name, logger: l}
}

func (s *LogrusSink) Name() string { return s.name }

func (s *LogrusSink) Write(e Entry) {
	fields := logrus.Fields{}
	for k, v := range e.Fields {
		fields[k] = v
	}
	if e.Module != "" {
		fields["module"] = e.Module
	}
	if e.Scope != "" {
		fields["scope"] = e.Scope
	}
	entry := s.logger.WithFields(fields)
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	switch e.Level {
	case LevelDebug:
		entry.Debug(e.Message)
	case LevelInfo:
		entry.Info(e.Message)
	case LevelWarn:
		entry.Warn(e.Message)
	case LevelError:
		entry.Error(e.Message)
	}
}

// ZapSink is a high-throughput structured sink. The teacher's go.mod
// required zap directly but, after the blockchain/TEE domain packages that
// used it were pruned, nothing kept referenced it; registering it as a
// sink keeps the dependency honestly exercised.
type ZapSink struct {
	name   string
	logger *zap.Logger
}

// NewZapSink builds a ZapSink over a production JSON encoder writing to out.
func NewZapSink(name string, out zapcore.WriteSyncer) *ZapSink {
	if out == nil {
		out = zapcore.AddSync(os.Stdout)
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, out, zapcore.DebugLevel)
	return &ZapSink{name: name, logger: zap.New(core)}
}

func (s *ZapSink) Name() string { return s.name }

func (s *ZapSink) Write(e Entry) {
	fields := make([]zap.Field, 0, len(e.Fields)+2)
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if e.Module != "" {
		fields = append(fields, zap.String("module", e.Module))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	switch e.Level {
	case LevelDebug:
		s.logger.Debug(e.Message, fields...)
	case LevelInfo:
		s.logger.Info(e.Message, fields...)
	case LevelWarn:
		s.logger.Warn(e.Message, fields...)
	case LevelError:
		s.logger.Error(e.Message, fields...)
	}
}

// ZerologSink is used for audit/security events where a compact,
// allocation-light JSON line is preferred (spec's LogSecurityEvent/
// LogAudit analogues).
type ZerologSink struct {
	name   string
	logger zerolog.Logger
}

// NewZerologSink builds a ZerologSink writing JSON lines to out.
func NewZerologSink(name string, out io.Writer) *ZerologSink {
	if out == nil {
		out = os.Stdout
	}
	return &ZerologSink{name: name, logger: zerolog.New(out).With().Timestamp().Logger()}
}

func (s *ZerologSink) Name() string { return s.name }

func (s *ZerologSink) Write(e Entry) {
	var ev *zerolog.Event
	switch e.Level {
	case LevelDebug:
		ev = s.logger.Debug()
	case LevelWarn:
		ev = s.logger.Warn()
	case LevelError:
		ev = s.logger.Error()
	default:
		ev = s.logger.Info()
	}
	if e.Module != "" {
		ev = ev.Str("module", e.Module)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	for k, v := range e.Fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(e.Message)
}

package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapCore forwards zap entries to a Logger, so components that log with
// typed zap fields share the base logger's level, format and output.
type zapCore struct {
	logger *Logger
}

// NewZapLogger returns a *zap.Logger writing through logger. Names given
// with Named appear in the "logger" field.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(&zapCore{logger: logger}, zap.AddCaller())
}

// levelOf maps zap levels onto ours. DPanic, panic and fatal entries are
// written as errors; zap itself panics or exits after the write.
func levelOf(level zapcore.Level) LogLevel {
	switch {
	case level <= zapcore.DebugLevel:
		return DebugLevel
	case level == zapcore.InfoLevel:
		return InfoLevel
	case level == zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// fieldMap decodes zap fields through a map encoder so floats, durations
// and errors keep their values.
func fieldMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	return enc.Fields
}

func (c *zapCore) Enabled(level zapcore.Level) bool {
	return c.logger.shouldLog(levelOf(level))
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	return &zapCore{logger: c.logger.WithFields(fieldMap(fields))}
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := fieldMap(fields)
	if ent.LoggerName != "" {
		f["logger"] = ent.LoggerName
	}
	if ent.Caller.Defined {
		f["caller"] = ent.Caller.TrimmedPath()
	}
	c.logger.log(levelOf(ent.Level), ent.Message, f)
	return nil
}

// Sync flushes the output when it is a file.
func (c *zapCore) Sync() error {
	return c.logger.out.sync()
}

// Package zapadapter provides a pgx logger that writes to a go.uber.org/zap.Logger
// and carries request and connection ids from the context into log entries.
package zapadapter

import (
	"context"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	requestIDKey key = iota
	connIDKey
)

type Logger struct {
	logger *zap.Logger
}

// NewContextWithID stores the request id used to correlate log entries
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// NewContextWithConnID stores the websocket connection handle the work was triggered by
func NewContextWithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

func ConnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connIDKey).(string)
	return id, ok
}

// Fields returns the correlation fields found in ctx
func Fields(ctx context.Context) []zapcore.Field {
	var fields []zapcore.Field
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ConnIDFromContext(ctx); ok {
		fields = append(fields, zap.String("conn_id", id))
	}
	return fields
}

// With returns a child of logger annotated with the correlation fields found in ctx
func With(ctx context.Context, logger *zap.SugaredLogger) *zap.SugaredLogger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.Desugar().With(fields...).Sugar()
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]zapcore.Field, 0, len(data)+2)
	fields = append(fields, Fields(ctx)...)
	for k, v := range data {
		fields = append(fields, zap.Reflect(k, v))
	}

	switch level {
	case pgx.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	case pgx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	}
}

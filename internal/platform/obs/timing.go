package obs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// WithRequestID returns a child context carrying id for Time log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// Time starts a timer for the named operation. The returned func logs the
// elapsed time and, if *errp is non-nil, the error. Intended for
// `defer obs.Time(ctx, logger, "op")(&err)`.
func Time(ctx context.Context, logger *zap.Logger, name string) func(errp *error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}

	reqID, _ := ctx.Value(RequestIDKey).(string)

	return func(errp *error) {
		fields := []zap.Field{
			zap.String("req_id", reqID),
			zap.String("op", name),
			zap.Int64("dur_ms", time.Since(start).Milliseconds()),
		}

		if errp != nil && *errp != nil {
			logger.Warn("operation failed", append(fields, zap.Error(*errp))...)
			return
		}
		logger.Debug("operation completed", fields...)
	}
}

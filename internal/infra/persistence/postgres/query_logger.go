package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shopdesk/internal/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// queryLogger routes gorm output to slog. Failures are graded by what the
// data-access layer does with them: stale connections are retried, so they
// are warnings; constraint violations become domain errors, so they are
// debug noise; anything else is an error.
type queryLogger struct {
	logger        *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func newQueryLogger(base *slog.Logger, verbose bool, slowThreshold time.Duration) logger.Interface {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}

	return &queryLogger{logger: base, level: level, slowThreshold: slowThreshold}
}

func (l *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cloned := *l
	cloned.level = level

	return &cloned
}

func (l *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	l.message(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.message(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	l.message(ctx, logger.Error, slog.LevelError, msg, args)
}

func (l *queryLogger) message(ctx context.Context, at logger.LogLevel, level slog.Level, msg string, args []any) {
	if l.level < at || l.logger == nil {
		return
	}
	l.logger.LogAttrs(ctx, level, "GORM", slog.String("message", fmt.Sprintf(msg, args...)))
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, sqlAndRowsFn func() (string, int64), err error) {
	if l.logger == nil || l.level == logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level slog.Level
		msg   string
		extra []slog.Attr
	)
	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		return
	case err != nil && l.level >= logger.Error:
		level, msg = gradeQueryError(err)
		extra = append(extra, slog.Any("error", err))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		level, msg = slog.LevelWarn, "Slow query"
		extra = append(extra, slog.Duration("threshold", l.slowThreshold))
	case l.level >= logger.Info:
		level, msg = slog.LevelInfo, "Query"
	default:
		return
	}

	if !l.logger.Enabled(ctx, level) {
		return
	}

	sql, rows := sqlAndRowsFn()
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if id, ok := SessionIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("session", id.String()))
	}
	l.logger.LogAttrs(ctx, level, msg, append(attrs, extra...)...)
}

func gradeQueryError(err error) (slog.Level, string) {
	switch {
	case isClosedResource(err):
		return slog.LevelWarn, "Query hit a closed connection"
	case IsUniqueViolation(err), IsForeignKeyViolation(err), IsCheckViolation(err):
		return slog.LevelDebug, "Query violated a constraint"
	default:
		return slog.LevelError, "Query failed"
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/stepflow/logger"
)

var logLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// queryLogger sends GORM output to the stepflow logger. Failed and slow
// statements are always reported; other statements only at info.
type queryLogger struct {
	log   *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newQueryLogger(log *logger.Logger, cfg Config) queryLogger {
	return queryLogger{log: log.WithComponent("gorm"), level: logLevels[cfg.LogLevel], slow: cfg.SlowQueryThreshold}
}

func (q queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	q.level = level
	return q
}

func (q queryLogger) Info(_ context.Context, format string, args ...interface{}) {
	if q.level >= gormlogger.Info {
		q.log.Info(fmt.Sprintf(format, args...))
	}
}

func (q queryLogger) Warn(_ context.Context, format string, args ...interface{}) {
	if q.level >= gormlogger.Warn {
		q.log.Warn(fmt.Sprintf(format, args...))
	}
}

func (q queryLogger) Error(_ context.Context, format string, args ...interface{}) {
	if q.level >= gormlogger.Error {
		q.log.Error(fmt.Sprintf(format, args...))
	}
}

func (q queryLogger) Trace(_ context.Context, begin time.Time, statement func() (string, int64), err error) {
	if q.level == gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !failed && took <= q.slow && q.level < gormlogger.Info {
		return
	}

	sql, rows := statement()
	fields := logger.Fields("sql", sql, "rows", rows, logger.FieldDuration, took.Milliseconds())
	switch {
	case failed:
		q.log.Error("Statement failed", logger.MergeWithError(fields, err))
	case took > q.slow:
		q.log.Warn("Slow statement", fields)
	default:
		q.log.Debug("Statement", fields)
	}
}

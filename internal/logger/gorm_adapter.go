package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerAdapter routes gorm's logging through a module Logger.
// Statements go out at TRACE, slow statements and query errors at WARN.
type GormLoggerAdapter struct {
	log           Logger
	slowThreshold time.Duration
}

// NewGormLoggerAdapter wraps log for use as gorm.Config.Logger. A zero
// slowThreshold disables slow statement warnings.
func NewGormLoggerAdapter(log Logger, slowThreshold time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLoggerAdapter{log: log, slowThreshold: slowThreshold}
}

// LogMode is a no-op; levels come from the module configuration.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return a
}

func (a *GormLoggerAdapter) Info(_ context.Context, msg string, data ...any) {
	a.log.Debug(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.log.Warn(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, msg string, data ...any) {
	a.log.Error(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	log := a.log.WithContext(ctx)

	fields := []Field{
		String("sql", sql),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn("query failed", append(fields, Error(err))...)
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		log.Warn("slow query", append(fields, Duration("threshold", a.slowThreshold))...)
	default:
		log.Trace("query", fields...)
	}
}

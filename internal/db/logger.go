package db

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger sends gorm output through the request scoped zerolog logger.
// Record-not-found is a normal lookup result and is not logged.
type gormLogger struct {
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(level logger.LogLevel) logger.Interface {
	return gormLogger{level: level, slow: slowQueryThreshold}
}

func (l gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	l.level = level
	return l
}

func (l gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		log.Ctx(ctx).Info().Msgf(msg, data...)
	}
}

func (l gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		log.Ctx(ctx).Warn().Msgf(msg, data...)
	}
}

func (l gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		log.Ctx(ctx).Error().Msgf(msg, data...)
	}
}

func (l gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.Ctx(ctx).Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		log.Ctx(ctx).Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("slow query")
	case l.level >= logger.Info:
		sql, rows := fc()
		log.Ctx(ctx).Debug().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query")
	}
}

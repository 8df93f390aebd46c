package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQuery is the slow statement threshold when none is configured
const DefaultSlowQuery = 200 * time.Millisecond

// GormConfig controls the gorm bridge
type GormConfig struct {
	Level gormlogger.LogLevel

	// SlowThreshold marks statements as slow; negative disables the warning
	SlowThreshold time.Duration

	// LogSQL includes the statement text. Statements carry bound values such
	// as e-mail addresses, so keep it off outside development.
	LogSQL bool
}

// GormLogger routes gorm output through zap with the request's context fields
type GormLogger struct {
	logger *zap.Logger
	cfg    GormConfig
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger creates a gorm logger backed by base
func NewGormLogger(base *zap.Logger, cfg GormConfig) *GormLogger {
	if cfg.SlowThreshold == 0 {
		cfg.SlowThreshold = DefaultSlowQuery
	}
	return &GormLogger{logger: base.Named("gorm"), cfg: cfg}
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.cfg.Level = level
	return &c
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Info {
		WithLogger(ctx, l.logger).Zap().Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Warn {
		WithLogger(ctx, l.logger).Zap().Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Error {
		WithLogger(ctx, l.logger).Zap().Sugar().Errorf(msg, data...)
	}
}

// Trace logs one finished statement. Missing rows and unique-key conflicts
// are ordinary outcomes here: lookups miss, duplicate signups and replayed
// processor events collide. Neither is reported as a failure.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("operation", statementKind(sql)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
	}
	if l.cfg.LogSQL {
		fields = append(fields, zap.String("sql", sql))
	}
	log := WithLogger(ctx, l.logger)

	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
		return
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		if l.cfg.Level >= gormlogger.Info {
			log.Debug("Unique constraint conflict", fields...)
		}
	case err != nil:
		if l.cfg.Level >= gormlogger.Error {
			log.Error("Query failed", append(fields, zap.Error(err))...)
		}
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold:
		if l.cfg.Level >= gormlogger.Warn {
			log.Warn("Slow query", append(fields, zap.Duration("threshold", l.cfg.SlowThreshold))...)
		}
	case l.cfg.Level >= gormlogger.Info:
		log.Debug("Query", fields...)
	}
}

// statementKind returns the leading SQL keyword in lower case
func statementKind(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	if sql == "" {
		return "unknown"
	}
	return strings.ToLower(sql)
}

// MapGormLogLevel maps the service log level to a gorm level. Only debug
// logging shows individual statements.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

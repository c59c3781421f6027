package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/resetkit/logger"
)

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// parseLogLevel maps a configured level name to gorm's. Unknown names
// select info.
func parseLogLevel(level string) gormlogger.LogLevel {
	if l, ok := gormLevels[strings.ToLower(level)]; ok {
		return l
	}
	return gormlogger.Info
}

// queryLogger forwards gorm's trace to the harness logger. Write statements
// carry the unprefixed tables they touch, so a reset can be followed table
// by table at debug level.
type queryLogger struct {
	log         *logger.Logger
	level       gormlogger.LogLevel
	slow        time.Duration
	writeTarget *regexp.Regexp
}

func newQueryLogger(log *logger.Logger, slow time.Duration, level gormlogger.LogLevel, writeTarget *regexp.Regexp) *queryLogger {
	return &queryLogger{
		log:         log.WithComponent("gorm"),
		level:       level,
		slow:        slow,
		writeTarget: writeTarget,
	}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *queryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	l.printf(gormlogger.Info, l.log.Info, msg, data)
}

func (l *queryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	l.printf(gormlogger.Warn, l.log.Warn, msg, data)
}

func (l *queryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	l.printf(gormlogger.Error, l.log.Error, msg, data)
}

func (l *queryLogger) printf(min gormlogger.LogLevel, emit func(string, ...map[string]interface{}), msg string, data []interface{}) {
	if l.level >= min {
		emit(fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow

	switch {
	case failed && l.level >= gormlogger.Error:
		fields := l.fields(fc, elapsed)
		fields[logger.FieldError] = err.Error()
		l.log.Error("Query failed", fields)
	case !failed && slow && l.level >= gormlogger.Warn:
		l.log.Warn("Slow query", l.fields(fc, elapsed))
	case !failed && l.level >= gormlogger.Info:
		l.log.Debug("Query", l.fields(fc, elapsed))
	}
}

func (l *queryLogger) fields(fc func() (string, int64), elapsed time.Duration) map[string]interface{} {
	sql, rows := fc()
	fields := logger.Fields("sql", sql, "rows", rows, logger.FieldDuration, elapsed.Milliseconds())
	if l.writeTarget != nil {
		if tables := tablesFromSQL(l.writeTarget, sql); len(tables) > 0 {
			fields[logger.FieldTables] = tables
		}
	}
	return fields
}

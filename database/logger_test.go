package database

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/resetkit/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]gormlogger.LogLevel{
		"silent": gormlogger.Silent,
		"ERROR":  gormlogger.Error,
		"warn":   gormlogger.Warn,
		"info":   gormlogger.Info,
		"chatty": gormlogger.Info,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQueryLogger_Trace(t *testing.T) {
	stmt := func(sql string) func() (string, int64) {
		return func() (string, int64) { return sql, 1 }
	}
	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		sql     string
		elapsed time.Duration
		err     error
		want    []string
		absent  string
	}{
		{
			name:  "write statement lists tables",
			level: gormlogger.Info,
			sql:   "DELETE FROM t_user WHERE id > 2",
			want:  []string{`"message":"Query"`, `"tables":["user"]`},
		},
		{
			name:   "read statement has no tables",
			level:  gormlogger.Info,
			sql:    "SELECT * FROM t_user",
			want:   []string{`"message":"Query"`},
			absent: `"tables"`,
		},
		{
			name:  "failure",
			level: gormlogger.Error,
			sql:   "INSERT INTO t_log (id) VALUES (1)",
			err:   errors.New("constraint failed"),
			want:  []string{`"message":"Query failed"`, `"error":"constraint failed"`, `"tables":["log"]`},
		},
		{
			name:    "slow",
			level:   gormlogger.Warn,
			sql:     "SELECT 1",
			elapsed: time.Hour,
			want:    []string{`"message":"Slow query"`},
		},
		{
			name:   "not found is not a failure",
			level:  gormlogger.Error,
			sql:    "SELECT 1",
			err:    gorm.ErrRecordNotFound,
			absent: "Query",
		},
		{
			name:   "silent",
			level:  gormlogger.Silent,
			sql:    "SELECT 1",
			err:    errors.New("boom"),
			absent: "Query",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf)
			ql := newQueryLogger(log, time.Minute, tt.level, writeTargetPattern("t_"))

			ql.Trace(context.Background(), time.Now().Add(-tt.elapsed), stmt(tt.sql), tt.err)

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %s missing %s", out, w)
				}
			}
			if tt.absent != "" && strings.Contains(out, tt.absent) {
				t.Errorf("output %s contains %s", out, tt.absent)
			}
		})
	}
}

func TestQueryLogger_LogModeCopies(t *testing.T) {
	ql := newQueryLogger(logger.NewNop(), 0, gormlogger.Warn, nil)
	other := ql.LogMode(gormlogger.Silent).(*queryLogger)
	if ql.level != gormlogger.Warn || other.level != gormlogger.Silent {
		t.Errorf("levels = %v, %v", ql.level, other.level)
	}
}

package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLogger_JSONWithCaller(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:      LogLevelDebug,
		Output:     &buf,
		Format:     "json",
		ShowCaller: true,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("segment uploaded")

	output := buf.String()
	if !strings.HasPrefix(output, "{") {
		t.Errorf("Expected JSON output with caller enabled, got %q", output)
	}
	if !strings.Contains(output, `"file":"logger`) || strings.Contains(output, "/internal/logging/") {
		t.Errorf("Expected short caller file in output, got %q", output)
	}
}

func TestNewLogger_InvalidLogFile(t *testing.T) {
	_, err := NewLogger(Config{
		Level:   LogLevelNormal,
		Output:  &bytes.Buffer{},
		LogFile: "/nonexistent-dir/agent.log",
	})
	if err == nil {
		t.Error("Expected error for unwritable log file")
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.WithFields(map[string]interface{}{
		"backup_id": "123",
		"segment":   "123_00000000",
	}).Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"backup_id":"123"`) {
		t.Errorf("Expected backup_id field in output, got %s", output)
	}
	if !strings.Contains(output, `"segment":"123_00000000"`) {
		t.Errorf("Expected segment field in output, got %s", output)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	ctx := CreateContextWithRequestID(context.Background(), "req-42")
	logger.WithContext(ctx).Info("with request")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("Expected request_id in output, got %s", buf.String())
	}
}

func TestLogCommandLaunch(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelDebug, Output: &buf, Format: "json"})

	logger.LogCommandLaunch("backup", "mysqldump -h localhost --password=s3cret -u os_admin", 42, nil)

	output := buf.String()
	if strings.Contains(output, "s3cret") {
		t.Errorf("Expected password to be masked, got %s", output)
	}
	if !strings.Contains(output, `"pid":42`) {
		t.Errorf("Expected pid in output, got %s", output)
	}

	buf.Reset()
	logger.LogCommandLaunch("restore", "mysql", 0, errors.New("exec: not found"))
	if !strings.Contains(buf.String(), "Failed to launch command") {
		t.Errorf("Expected launch failure message, got %s", buf.String())
	}
}

func TestLogSegmentUpload(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogSegmentUpload("z_CLOUDDB_BACKUPS", "123_00000000", 48, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Expected successful uploads to be silent at normal level, got %s", buf.String())
	}

	logger.LogSegmentUpload("z_CLOUDDB_BACKUPS", "123_00000001", 48, time.Millisecond, errors.New("boom"))
	if !strings.Contains(buf.String(), "Segment upload failed") {
		t.Errorf("Expected failure to be logged, got %s", buf.String())
	}

	buf.Reset()
	logger.SetLevel(LogLevelVerbose)
	logger.LogSegmentUpload("z_CLOUDDB_BACKUPS", "123_00000002", 4, time.Millisecond, nil)
	if !strings.Contains(buf.String(), "Segment uploaded") {
		t.Errorf("Expected upload to be logged at verbose level, got %s", buf.String())
	}
}

func TestLogStateTransition(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogStateTransition("123", "inst-1", "NEW", "BUILDING")

	output := buf.String()
	if !strings.Contains(output, `"from":"NEW"`) || !strings.Contains(output, `"to":"BUILDING"`) {
		t.Errorf("Expected transition fields, got %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &bytes.Buffer{}})

	logger.SetLevel(LogLevelDebug)
	if logger.GetLevel() != LogLevelDebug {
		t.Errorf("Expected level debug, got %v", logger.GetLevel())
	}
	if !logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("Expected verbose to be enabled at debug level")
	}

	logger.SetLevel(LogLevelQuiet)
	if logger.IsLevelEnabled(LogLevelNormal) {
		t.Error("Expected normal to be disabled at quiet level")
	}
	if logger.IsLevelEnabled(LogLevel("bogus")) {
		t.Error("Expected unknown level to be disabled")
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	done := logger.LogOperationStart("backup", map[string]interface{}{"backup_id": "123"})
	done(nil)

	output := buf.String()
	if !strings.Contains(output, "Operation completed") {
		t.Errorf("Expected completion message, got %s", output)
	}
	if !strings.Contains(output, `"success":true`) {
		t.Errorf("Expected success field, got %s", output)
	}

	buf.Reset()
	done = logger.LogOperationStart("restore", nil)
	done(errors.New("restore failed"))
	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("Expected failure message, got %s", buf.String())
	}
}

func TestGetRequestIDFromContext(t *testing.T) {
	if id := GetRequestIDFromContext(context.Background()); id != "" {
		t.Errorf("Expected empty request id, got %q", id)
	}

	ctx := CreateContextWithRequestID(context.Background(), "abc")
	if id := GetRequestIDFromContext(ctx); id != "abc" {
		t.Errorf("Expected request id abc, got %q", id)
	}
}

func TestSanitizeSQL(t *testing.T) {
	got := SanitizeSQL("CREATE USER `app`@`%` IDENTIFIED BY 's3cret'")
	if strings.Contains(got, "s3cret") {
		t.Errorf("Expected password to be masked, got %q", got)
	}
	if !strings.Contains(got, "IDENTIFIED BY '***'") {
		t.Errorf("Expected masked literal, got %q", got)
	}

	plain := "CREATE DATABASE IF NOT EXISTS `app`"
	if got := SanitizeSQL(plain); got != plain {
		t.Errorf("Expected statement unchanged, got %q", got)
	}
}

func TestLogDatabaseConnection(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogDatabaseConnection("localhost", "backups", false, time.Second, errors.New("refused"))
	output := buf.String()
	if !strings.Contains(output, "Database connection failed") || !strings.Contains(output, `"error":"refused"`) {
		t.Errorf("Expected failure entry, got %s", output)
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected string
	}{
		{
			name:     "dump password",
			command:  "/usr/bin/mysqldump -h localhost --password=secret -u root | gzip",
			expected: "/usr/bin/mysqldump -h localhost --password=*** -u root | gzip",
		},
		{
			name:     "quoted password",
			command:  "mysql --password='my secret' -u root",
			expected: "mysql --password=*** -u root",
		},
		{
			name:     "no password",
			command:  "sudo innobackupex --apply-log /var/lib/mysql",
			expected: "sudo innobackupex --apply-log /var/lib/mysql",
		},
		{
			name:     "prepare flag untouched",
			command:  "sudo xtrabackup --prepare --target-dir=/var/lib/mysql",
			expected: "sudo xtrabackup --prepare --target-dir=/var/lib/mysql",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeCommand(tt.command); got != tt.expected {
				t.Errorf("SanitizeCommand() = %q, want %q", got, tt.expected)
			}
		})
	}

	long := strings.Repeat("x", 600)
	if got := SanitizeCommand(long); !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("Expected long command to be truncated")
	}
}

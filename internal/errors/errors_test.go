package errors

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	if appErr.Type != ErrorTypeConnection {
		t.Errorf("Expected type %v, got %v", ErrorTypeConnection, appErr.Type)
	}
	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}
	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "connection: connection failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}

	if !errors.Is(appErr, cause) {
		t.Error("Expected AppError to unwrap to its cause")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeStorage, "put failed", nil)
	appErr.WithContext("container", "z_CLOUDDB_BACKUPS").WithContext("attempt", 2)

	if appErr.Context["container"] != "z_CLOUDDB_BACKUPS" {
		t.Errorf("Expected container context, got %v", appErr.Context["container"])
	}
	if appErr.Context["attempt"] != 2 {
		t.Errorf("Expected attempt=2, got %v", appErr.Context["attempt"])
	}
	if appErr.Error() != "storage: put failed" {
		t.Errorf("Unexpected error string %q", appErr.Error())
	}
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		mysqlErr     *mysql.MySQLError
		expectedType ErrorType
		recoverable  bool
	}{
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, ErrorTypePermission, false},
		{"missing privilege", &mysql.MySQLError{Number: 1227, Message: "Access denied; you need SUPER"}, ErrorTypePermission, false},
		{"database exists", &mysql.MySQLError{Number: 1007, Message: "Can't create database"}, ErrorTypeValidation, false},
		{"create user failed", &mysql.MySQLError{Number: 1396, Message: "Operation CREATE USER failed"}, ErrorTypeValidation, false},
		{"too many connections", &mysql.MySQLError{Number: 1040, Message: "Too many connections"}, ErrorTypeConnection, true},
		{"can't connect", &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"}, ErrorTypeConnection, true},
		{"lost connection", &mysql.MySQLError{Number: 2013, Message: "Lost connection"}, ErrorTypeConnection, true},
		{"other", &mysql.MySQLError{Number: 1366, Message: "Incorrect string value"}, ErrorTypeSQL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.mysqlErr)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
			if appErr.Context["mysql_error_code"] != tt.mysqlErr.Number {
				t.Errorf("Expected mysql_error_code=%v, got %v", tt.mysqlErr.Number, appErr.Context["mysql_error_code"])
			}
		})
	}
}

func TestErrorClassifier_ClassifyOtherErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{"no rows", sql.ErrNoRows, ErrorTypeValidation, false},
		{"conn done", sql.ErrConnDone, ErrorTypeConnection, true},
		{"invalid conn", mysql.ErrInvalidConn, ErrorTypeConnection, true},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout, true},
		{"canceled", context.Canceled, ErrorTypeInterruption, false},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorTypeConnection, true},
		{"command not found", &exec.Error{Name: "innobackupex", Err: exec.ErrNotFound}, ErrorTypeProcess, false},
		{"missing file", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, ErrorTypeValidation, false},
		{"no space", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrorTypeStorage, false},
		{"unknown", errors.New("mystery"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)
			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}

	if classifier.ClassifyError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestErrorClassifier_ClassifyNetworkTimeout(t *testing.T) {
	appErr := NewErrorClassifier().ClassifyError(&mockNetError{timeout: true})

	if appErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected type %v, got %v", ErrorTypeTimeout, appErr.Type)
	}
	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error for timeout")
	}
}

type mockNetError struct {
	timeout bool
}

func (e *mockNetError) Error() string   { return "mock network error" }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
	handler := NewRetryHandler(config)

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewRecoverableError(ErrorTypeConnection, "temporary failure", nil)
			}
			return nil
		})

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("non-recoverable error", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewAppError(ErrorTypeValidation, "validation failed", nil)
		})

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
		if GetErrorType(err) != ErrorTypeValidation {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewRecoverableError(ErrorTypeConnection, "always fails", nil)
		})

		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if attempts != config.MaxAttempts {
			t.Errorf("Expected %d attempts, got %d", config.MaxAttempts, attempts)
		}

		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.Context["attempts"] != config.MaxAttempts {
			t.Errorf("Expected attempts context, got %v", err)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := handler.Retry(ctx, func() error { return nil })
		if GetErrorType(err) != ErrorTypeInterruption {
			t.Errorf("Expected interruption error, got %v", err)
		}
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	})

	expected := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: 1 * time.Second,
	}

	for attempt, want := range expected {
		if got := handler.calculateDelay(attempt); got != want {
			t.Errorf("Attempt %d: expected delay %v, got %v", attempt, want, got)
		}
	}
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 1)
		return nil
	})
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 2)
		return errors.New("close failed")
	})

	handler.Shutdown()
	handler.Shutdown()
	handler.WaitForShutdown()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("Expected shutdown funcs to run once in reverse order, got %v", order)
	}
	if err := handler.Err(); err == nil || err.Error() != "close failed" {
		t.Errorf("Expected close failure to be reported, got %v", err)
	}
}

func TestRetryHandler_Notify(t *testing.T) {
	var notified []int
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  2.0,
	}).WithNotify(func(attempt int, delay time.Duration, err *AppError) {
		if err.Type != ErrorTypeConnection {
			t.Errorf("Expected connection error, got %v", err.Type)
		}
		notified = append(notified, attempt)
	})

	_ = handler.Retry(context.Background(), func() error {
		return NewRecoverableError(ErrorTypeConnection, "refused", nil)
	})

	// no notification after the last attempt
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("Expected notifications for attempts 1 and 2, got %v", notified)
	}
}

func TestFormatUserError(t *testing.T) {
	if FormatUserError(nil) != "" {
		t.Error("Expected empty string for nil error")
	}

	appErr := NewAppError(ErrorTypeConnection, "internal message", nil)
	appErr.UserMessage = "Cannot reach the database"
	if got := FormatUserError(appErr); got != "Cannot reach the database" {
		t.Errorf("Expected user message, got %q", got)
	}

	if got := FormatUserError(errors.New("plain")); got != "plain" {
		t.Errorf("Expected plain error text, got %q", got)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "msg") != nil {
		t.Error("Expected nil for nil error")
	}

	wrapped := WrapError(sql.ErrConnDone, "failed to ping database")
	if GetErrorType(wrapped) != ErrorTypeConnection {
		t.Errorf("Expected connection type, got %v", GetErrorType(wrapped))
	}
	if !IsRecoverableError(wrapped) {
		t.Error("Expected wrapped conn-done error to stay recoverable")
	}

	inner := NewAppError(ErrorTypeStorage, "inner", nil)
	outer := WrapError(inner, "outer")
	if GetErrorType(outer) != ErrorTypeStorage {
		t.Errorf("Expected storage type to be preserved, got %v", GetErrorType(outer))
	}
}

package logger

import "testing"

func TestFormatKeyVals(t *testing.T) {
	got := formatKeyVals("node", 1, "phase", "prepare")
	want := "node=1 phase=prepare"
	if got != want {
		t.Fatalf("formatKeyVals() = %q, want %q", got, want)
	}
}

func TestConvenienceFunctionsWithoutGlobalLogger(t *testing.T) {
	GlobalLogger = nil
	// These must not panic when no global logger has been configured.
	Info("test message")
	Warn("test message")
	Error("test message", nil)
}

func TestNewLoggerDebugGating(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")
	l := NewLogger("test-service", nil)
	if l.enableDB {
		t.Fatal("expected DB logging disabled when no *gorm.DB is provided")
	}
	if l.enableDebug {
		t.Fatal("expected debug output disabled unless LOG_LEVEL=DEBUG")
	}
	t.Setenv("LOG_LEVEL", "DEBUG")
	if !NewLogger("test-service", nil).enableDebug {
		t.Fatal("expected debug output enabled when LOG_LEVEL=DEBUG")
	}
}

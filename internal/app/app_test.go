package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/fitbattle/internal/config"
	"github.com/hitoshi/fitbattle/internal/model"
)

// restoreDefaultLogger はInitが差し替えたデフォルトロガーをテスト終了時に戻す。
func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "info")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.StorageBackend != config.BackendMemory {
		t.Errorf("StorageBackend = %q, want %q", cfg.StorageBackend, config.BackendMemory)
	}

	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("info log should be filtered at warn level, got %s", buf.String())
	}
	slog.Default().Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("warn log missing: %s", buf.String())
	}
}

func TestInit_WithUnknownBackend_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("STORAGE_BACKEND", "mongodb")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for unknown backend, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
	if !model.IsMalformedConfiguration(err) {
		t.Errorf("expected MalformedConfigurationError, got %v", err)
	}
}

// DATABASE_URLが未設定でも初期化は成功し、serveは接続できない状態で起動する
func TestInit_PostgresWithoutURL_Succeeds(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.Realtime() {
		t.Errorf("StorageBackend = %q, want postgres", cfg.StorageBackend)
	}
}

func TestRun_RankingsCommand_PostgresWithoutURL(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"rankings"})
	if !model.IsBackendUnavailable(err) {
		t.Errorf("expected BackendUnavailableError, got %v", err)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"postgres://fitbattle:secret@db:5432/fitbattle?sslmode=disable",
			"postgres://fitbattle:xxxxx@db:5432/fitbattle?sslmode=disable",
		},
		{"postgres://db:5432/fitbattle", "postgres://db:5432/fitbattle"},
		{"not a url", "***"},
		{"", "***"},
	}

	for _, tt := range tests {
		if got := maskDatabaseURL(tt.in); got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

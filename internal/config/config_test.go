package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canflash.yaml")
	body := `
transport: slcan
port: /dev/ttyACM0
baud: 230400
bitrate: 500000
board_id: 0x12
history: sessions.db
log_level: debug
log_frames: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportSLCAN || cfg.Port != "/dev/ttyACM0" {
		t.Fatalf("transport: %+v", cfg)
	}
	if cfg.Baud != 230400 || cfg.Bitrate != 500000 {
		t.Fatalf("serial settings: %+v", cfg)
	}
	if cfg.BoardID != 0x12 {
		t.Fatalf("board id: %d", cfg.BoardID)
	}
	if !cfg.LogFrames || cfg.LogLevel != "debug" {
		t.Fatalf("logging: %+v", cfg)
	}
	// Defaults survive for unset keys.
	if cfg.Interface != "can0" {
		t.Fatalf("interface default lost: %q", cfg.Interface)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Transport = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown transport")
	}

	cfg = Default()
	cfg.Transport = TransportSLCAN
	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for slcan without port")
	}

	cfg = Default()
	cfg.LogLevel = "shouty"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"err":     slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

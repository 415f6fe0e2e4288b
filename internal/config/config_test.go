package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantrail/fixcore/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixcore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Contexts.SectorSize != config.DefaultSectorSize {
		t.Errorf("Contexts.SectorSize = %d, want %d", cfg.Contexts.SectorSize, config.DefaultSectorSize)
	}

	if cfg.Index.FileSize != config.DefaultReplayIndexFileSize {
		t.Errorf("Index.FileSize = %d, want %d", cfg.Index.FileSize, config.DefaultReplayIndexFileSize)
	}

	if cfg.Streams.SentStreamID == cfg.Streams.ReceivedStreamID {
		t.Errorf("default sent/received stream ids collide: %d", cfg.Streams.SentStreamID)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
contexts:
  path: "/var/lib/fixcore/contexts.dat"
  file_size: 8192
  sector_size: 4096
replay_index:
  dir: "/var/lib/fixcore/replay-index"
  file_size: 65536
  cache_capacity: 32
streams:
  sent_stream_id: 10
  received_stream_id: 20
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Contexts.FileSize != 8192 {
		t.Errorf("Contexts.FileSize = %d, want %d", cfg.Contexts.FileSize, 8192)
	}

	if cfg.Index.FileSize != 65536 {
		t.Errorf("Index.FileSize = %d, want %d", cfg.Index.FileSize, 65536)
	}

	if cfg.Streams.SentStreamID != 10 || cfg.Streams.ReceivedStreamID != 20 {
		t.Errorf("Streams = %+v, want sent=10 received=20", cfg.Streams)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
}

func TestValidateRejectsInvalidSectorSize(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Contexts.SectorSize = 0

	if err := config.Validate(cfg); !errors.Is(err, config.ErrInvalidSectorSize) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidSectorSize)
	}
}

func TestValidateRejectsIndexFileSizeNotMultipleOfRecordLength(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Index.FileSize = 1000

	if err := config.Validate(cfg); !errors.Is(err, config.ErrInvalidIndexFileSize) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidIndexFileSize)
	}
}

func TestValidateAcceptsNonPowerOfTwoIndexFileSize(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	// 96 = 3 * replayindex.RecordLength: a valid capacity that is not a
	// power of two, proving the relaxed ring.Open constraint (a positive
	// multiple of the record length) is reachable through config.Validate.
	cfg.Index.FileSize = 96

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil for non-power-of-two multiple of record length", err)
	}
}

func TestValidateRejectsDuplicateStreamIDs(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Streams.ReceivedStreamID = cfg.Streams.SentStreamID

	if err := config.Validate(cfg); !errors.Is(err, config.ErrDuplicateStreamID) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrDuplicateStreamID)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"huh":   slog.LevelInfo,
	}

	for in, want := range cases {
		if got := config.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

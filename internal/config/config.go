// Package config manages the fixcore engine configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quantrail/fixcore/internal/replayindex"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete fixcore engine configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Contexts ContextsConfig `koanf:"contexts"`
	Index    ReplayIndexConfig `koanf:"replay_index"`
	Streams  StreamConfig   `koanf:"streams"`
	Archive  ArchiveConfig  `koanf:"archive"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// ContextsConfig describes the session-identity store (spec §4.1).
type ContextsConfig struct {
	// Path is the file backing the memory-mapped session contexts store.
	Path string `koanf:"path"`
	// FileSize is the total size in bytes of the contexts file; must be a
	// multiple of SectorSize.
	FileSize int64 `koanf:"file_size"`
	// SectorSize is the size in bytes of one checksummed sector. Typically
	// 4096.
	SectorSize int32 `koanf:"sector_size"`
}

// ReplayIndexConfig describes the per-session replay-index ring files
// (spec §4.3).
type ReplayIndexConfig struct {
	// Dir is the directory holding replay-index-{session}-{stream} and
	// replay-positions-{stream} files.
	Dir string `koanf:"dir"`
	// FileSize is the record-area capacity in bytes of each replay-index
	// ring file (header length is fixed and excluded from this figure).
	// Must be a positive multiple of the fixed record length -- not
	// required to be a power of two; see internal/replayindex.Ring.Open.
	FileSize int64 `koanf:"file_size"`
	// CacheCapacity is passed to replayindex.NewManager as the slot count
	// of each replay-positions file. It does not bound the open
	// (session, stream) ring mappings: every ring the manager opens stays
	// mapped until the manager is closed, and none is evicted.
	CacheCapacity int `koanf:"cache_capacity"`
}

// StreamConfig names the stream ids the indexer and replayer operate on.
type StreamConfig struct {
	// SentStreamID is the stream id of outbound (sent) FIX business
	// messages on the durable ordered log -- the stream the indexer
	// tails and the replayer republishes onto.
	SentStreamID int32 `koanf:"sent_stream_id"`
	// ReceivedStreamID is the stream id of inbound FIX messages, used by
	// the archive scanner's RECEIVED direction.
	ReceivedStreamID int32 `koanf:"received_stream_id"`
}

// ArchiveConfig configures the offline archive scanner (spec §4.5).
type ArchiveConfig struct {
	// Channel identifies the archive channel/endpoint to query.
	Channel string `koanf:"channel"`
	// Follow, when true, replays the final (still-archiving) recording
	// open-ended instead of snapshotting its stop position at entry.
	Follow bool `koanf:"follow"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultSectorSize is the default sector size for the contexts file, per
// spec §4.1 ("SECTOR_SIZE, typically 4096 B").
const DefaultSectorSize = 4096

// DefaultContextsFileSize is a conservative default contexts-file size:
// enough sectors for a few thousand sessions at typical composite-key
// lengths.
const DefaultContextsFileSize = 16 * 1024 * 1024

// DefaultReplayIndexFileSize is the default ring file size. Must stay a
// positive multiple of replayindex.RecordLength.
const DefaultReplayIndexFileSize = 1 << 20

// DefaultReplayIndexCacheCapacity is the default CacheCapacity: the number
// of slots in each replay-positions file.
const DefaultReplayIndexCacheCapacity = 256

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Contexts: ContextsConfig{
			Path:       "./data/session-contexts.dat",
			FileSize:   DefaultContextsFileSize,
			SectorSize: DefaultSectorSize,
		},
		Index: ReplayIndexConfig{
			Dir:           "./data/replay-index",
			FileSize:      DefaultReplayIndexFileSize,
			CacheCapacity: DefaultReplayIndexCacheCapacity,
		},
		Streams: StreamConfig{
			SentStreamID:     1,
			ReceivedStreamID: 2,
		},
		Archive: ArchiveConfig{
			Channel: "archive-local",
			Follow:  false,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for fixcore configuration.
// Variables are named FIXCORE_<section>_<key>, e.g., FIXCORE_METRICS_ADDR.
const envPrefix = "FIXCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (FIXCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms FIXCORE_METRICS_ADDR -> metrics.addr.
// Only the underscore after the section name becomes a dot, so
// FIXCORE_REPLAY_INDEX_FILE_SIZE -> replay_index.file_size.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	for _, section := range []string{"replay_index", "log", "metrics", "contexts", "streams", "archive"} {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"contexts.path":                defaults.Contexts.Path,
		"contexts.file_size":           defaults.Contexts.FileSize,
		"contexts.sector_size":         defaults.Contexts.SectorSize,
		"replay_index.dir":             defaults.Index.Dir,
		"replay_index.file_size":       defaults.Index.FileSize,
		"replay_index.cache_capacity":  defaults.Index.CacheCapacity,
		"streams.sent_stream_id":       defaults.Streams.SentStreamID,
		"streams.received_stream_id":   defaults.Streams.ReceivedStreamID,
		"archive.channel":              defaults.Archive.Channel,
		"archive.follow":               defaults.Archive.Follow,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyContextsPath indicates the contexts file path is empty.
	ErrEmptyContextsPath = errors.New("contexts.path must not be empty")

	// ErrInvalidSectorSize indicates the sector size is not positive or
	// does not evenly divide the contexts file size.
	ErrInvalidSectorSize = errors.New("contexts.sector_size must be positive and divide contexts.file_size")

	// ErrInvalidIndexFileSize indicates the replay-index file size is not
	// a positive multiple of the fixed record length.
	ErrInvalidIndexFileSize = errors.New("replay_index.file_size must be a positive multiple of the replay-index record length")

	// ErrInvalidCacheCapacity indicates the replay-index cache capacity is
	// not positive.
	ErrInvalidCacheCapacity = errors.New("replay_index.cache_capacity must be >= 1")

	// ErrDuplicateStreamID indicates the sent and received stream ids
	// collide.
	ErrDuplicateStreamID = errors.New("streams.sent_stream_id and streams.received_stream_id must differ")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Contexts.Path == "" {
		return ErrEmptyContextsPath
	}

	if cfg.Contexts.SectorSize <= 0 || cfg.Contexts.FileSize%int64(cfg.Contexts.SectorSize) != 0 {
		return ErrInvalidSectorSize
	}

	if cfg.Index.FileSize <= 0 || cfg.Index.FileSize%replayindex.RecordLength != 0 {
		return ErrInvalidIndexFileSize
	}

	if cfg.Index.CacheCapacity < 1 {
		return ErrInvalidCacheCapacity
	}

	if cfg.Streams.SentStreamID == cfg.Streams.ReceivedStreamID {
		return ErrDuplicateStreamID
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig []byte

// DefaultPath is where Load looks when no explicit path is given.
const DefaultPath = "~/.config/tapedeck/config.toml"

// Config is the top-level tapedeck configuration.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Capture   Capture   `toml:"capture"`
	Recording Recording `toml:"recording"`
	Merge     Merge     `toml:"merge"`
	Logging   Logging   `toml:"logging"`
}

// Paths groups every directory tapedeck writes into.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	TempDir   string `toml:"temp_dir"`
	StatusDir string `toml:"status_dir"`
	SignalDir string `toml:"signal_dir"`
	StateDB   string `toml:"state_db"`
	LockDir   string `toml:"lock_dir"`
}

// Capture controls the audio sources handed to ffmpeg.
type Capture struct {
	LoopbackDevice   string `toml:"loopback_device"`
	MicDevice        string `toml:"mic_device"`
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	BlockFrames      int    `toml:"block_frames"`
	QueueBlocks      int    `toml:"queue_blocks"`
	SilenceThreshold int    `toml:"silence_threshold"`
}

// Recording holds session-level defaults.
type Recording struct {
	Quality            string `toml:"quality"`
	Format             string `toml:"format"`
	MaxDurationSeconds int    `toml:"max_duration_seconds"`
	StatusInterval     string `toml:"status_interval"`
}

// Merge tunes the output muxing stage.
type Merge struct {
	AACBitrate     string `toml:"aac_bitrate"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging mirrors the options consumed by internal/logging.
type Logging struct {
	Level       string   `toml:"level"`
	Format      string   `toml:"format"`
	OutputPaths []string `toml:"output_paths"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: Paths{
			OutputDir: "~/recordings",
			TempDir:   "~/.local/share/tapedeck/tmp",
			StatusDir: "~/.local/share/tapedeck/status",
			SignalDir: "~/.local/share/tapedeck/signals",
			StateDB:   "~/.local/share/tapedeck/tapedeck.db",
			LockDir:   "~/.local/share/tapedeck/locks",
		},
		Capture: Capture{
			FFmpegBinary:     "ffmpeg",
			FFprobeBinary:    "ffprobe",
			BlockFrames:      1024,
			QueueBlocks:      64,
			SilenceThreshold: 100,
		},
		Recording: Recording{
			Quality:            "standard",
			Format:             "wav",
			MaxDurationSeconds: 7200,
			StatusInterval:     "1s",
		},
		Merge: Merge{
			AACBitrate:     "192k",
			TimeoutSeconds: 600,
		},
		Logging: Logging{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
	}
}

// Load reads the config at path, or DefaultPath when path is empty. A missing
// file at the default location yields the built-in defaults; a missing file at
// an explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			if err := cfg.normalize(); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.OutputDir,
		&c.Paths.TempDir,
		&c.Paths.StatusDir,
		&c.Paths.SignalDir,
		&c.Paths.StateDB,
		&c.Paths.LockDir,
	}
	for _, p := range paths {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	c.Recording.Quality = strings.ToLower(strings.TrimSpace(c.Recording.Quality))
	c.Recording.Format = strings.ToLower(strings.TrimSpace(c.Recording.Format))
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	c.Capture.FFprobeBinary = strings.TrimSpace(c.Capture.FFprobeBinary)
	return nil
}

// Validate checks values that would otherwise fail deep inside a recording.
func (c *Config) Validate() error {
	var problems []string

	switch c.Recording.Quality {
	case "quick", "standard", "professional", "high":
	default:
		problems = append(problems, fmt.Sprintf("recording.quality: unknown preset %q", c.Recording.Quality))
	}
	switch c.Recording.Format {
	case "wav", "m4a":
	default:
		problems = append(problems, fmt.Sprintf("recording.format: unsupported format %q", c.Recording.Format))
	}
	if c.Recording.MaxDurationSeconds <= 0 {
		problems = append(problems, "recording.max_duration_seconds: must be positive")
	}
	if _, err := c.StatusInterval(); err != nil {
		problems = append(problems, fmt.Sprintf("recording.status_interval: %v", err))
	}
	if c.Capture.FFmpegBinary == "" {
		problems = append(problems, "capture.ffmpeg_binary: must not be empty")
	}
	if c.Capture.FFprobeBinary == "" {
		problems = append(problems, "capture.ffprobe_binary: must not be empty")
	}
	if c.Capture.BlockFrames <= 0 {
		problems = append(problems, "capture.block_frames: must be positive")
	}
	if c.Capture.QueueBlocks <= 0 {
		problems = append(problems, "capture.queue_blocks: must be positive")
	}
	if c.Capture.SilenceThreshold < 0 {
		problems = append(problems, "capture.silence_threshold: must not be negative")
	}
	if c.Merge.TimeoutSeconds <= 0 {
		problems = append(problems, "merge.timeout_seconds: must be positive")
	}
	if c.Paths.OutputDir == "" {
		problems = append(problems, "paths.output_dir: must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// StatusInterval parses the configured reporter cadence.
func (c *Config) StatusInterval() (time.Duration, error) {
	raw := strings.TrimSpace(c.Recording.StatusInterval)
	if raw == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// EnsureDirectories creates every directory tapedeck needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.OutputDir,
		c.Paths.TempDir,
		c.Paths.StatusDir,
		c.Paths.SignalDir,
		c.Paths.LockDir,
		filepath.Dir(c.Paths.StateDB),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config already exists at %s", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(resolved, sampleConfig, 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}

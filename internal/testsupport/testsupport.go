// Package testsupport holds fixtures shared by package tests: a temp-rooted
// configuration, a session store helper, stub ffmpeg/ffprobe binaries, and a
// synthetic capture source that removes the need for real audio hardware.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"tapedeck/internal/config"
	"tapedeck/internal/store"
)

// Device names wired into NewConfig so per-device factories can tell the
// channels apart.
const (
	LoopbackDevice = "synthetic-loopback"
	MicDevice      = "synthetic-mic"
)

// NewConfig returns a validated configuration rooted in a fresh temp
// directory, with every runtime directory created.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		OutputDir: filepath.Join(root, "out"),
		TempDir:   filepath.Join(root, "tmp"),
		StatusDir: filepath.Join(root, "status"),
		SignalDir: filepath.Join(root, "signals"),
		StateDB:   filepath.Join(root, "db", "tapedeck.db"),
		LockDir:   filepath.Join(root, "locks"),
	}
	cfg.Capture.LoopbackDevice = LoopbackDevice
	cfg.Capture.MicDevice = MicDevice
	cfg.Recording.StatusInterval = "25ms"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

// MustOpenStore opens the registry at the config's path and closes it with
// the test.
func MustOpenStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), cfg.Paths.StateDB)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// StubBinary writes an executable shell script and returns its path.
func StubBinary(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are posix-only")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

// CopyOutputFFmpeg is a stub ffmpeg script that writes its last argument,
// mimicking a merge that produces the partial file.
const CopyOutputFFmpeg = `for last; do :; done
echo "merged audio" > "$last"`

// WithStubbedBinaries points the config's ffmpeg and ffprobe at stub
// scripts. The ffprobe stub reports a short mono pcm stream.
func WithStubbedBinaries(t *testing.T, cfg *config.Config) {
	t.Helper()
	cfg.Capture.FFmpegBinary = StubBinary(t, "ffmpeg", CopyOutputFFmpeg)
	cfg.Capture.FFprobeBinary = StubBinary(t, "ffprobe", `cat <<'JSON'
{"streams": [{"codec_type": "audio", "codec_name": "pcm_s16le", "sample_rate": "16000", "channels": 1, "duration": "1.0"}]}
JSON`)
}

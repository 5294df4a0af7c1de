package capture

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestFFmpegArgsSelectInputBackend(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("input backend selection is linux-specific")
	}
	tests := []struct {
		device string
		want   string
	}{
		{"hw:1,0", "-f alsa -i hw:1,0"},
		{"plughw:2", "-f alsa -i plughw:2"},
		{"alsa_output.pci.monitor", "-f pulse -i alsa_output.pci.monitor"},
		{"", "-f pulse -i default"},
	}
	for _, tt := range tests {
		src := NewFFmpegSource("ffmpeg", tt.device, 44100, 2, 1024, 4)
		joined := strings.Join(src.args(), " ")
		if !strings.Contains(joined, tt.want) {
			t.Errorf("device %q: args %q missing %q", tt.device, joined, tt.want)
		}
		if !strings.Contains(joined, "-f s16le") || !strings.HasSuffix(joined, "-") {
			t.Errorf("device %q: output args wrong: %q", tt.device, joined)
		}
	}
}

func stubPCMBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are posix-only")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegSourceStreamsUntilEOF(t *testing.T) {
	// 4096 bytes of silence = 1024 stereo frames of s16le.
	bin := stubPCMBinary(t, "head -c 4096 /dev/zero")
	src := NewFFmpegSource(bin, "default", 44100, 2, 256, 4)

	blocks, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var samples int
	for b := range blocks {
		samples += len(b.Samples)
	}
	if samples != 2048 {
		t.Fatalf("samples = %d, want 2048", samples)
	}
	if err := src.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
}

func TestFFmpegSourceReportsFailure(t *testing.T) {
	bin := stubPCMBinary(t, "echo 'Device or resource busy' >&2; exit 1")
	src := NewFFmpegSource(bin, "hw:9,0", 44100, 2, 256, 4)

	blocks, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range blocks {
	}
	if src.Err() == nil {
		t.Fatal("expected error from failed process")
	}
}

func TestFFmpegSourceCancelFlushesBeforeExit(t *testing.T) {
	// Emits nothing until SIGINT, then flushes a final burst. Cancelling
	// the context must deliver that burst, not kill the process.
	bin := stubPCMBinary(t, `trap 'head -c 2048 /dev/zero; exit 0' INT
while :; do sleep 0.01; done`)
	src := NewFFmpegSource(bin, "default", 44100, 2, 256, 8)

	ctx, cancel := context.WithCancel(context.Background())
	blocks, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	received := make(chan int, 1)
	go func() {
		total := 0
		for b := range blocks {
			total += len(b.Samples)
		}
		received <- total
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case total := <-received:
		if total != 1024 {
			t.Fatalf("flushed samples = %d, want 1024", total)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
	if err := src.Err(); err != nil {
		t.Fatalf("cancelled stop should not report error: %v", err)
	}
}

func TestFFmpegSourceStopDrains(t *testing.T) {
	// Stream forever until SIGINT, then exit cleanly.
	bin := stubPCMBinary(t, `trap 'exit 0' INT
while :; do head -c 1024 /dev/zero || exit 0; sleep 0.01; done`)
	src := NewFFmpegSource(bin, "default", 44100, 2, 256, 8)

	blocks, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	received := make(chan int, 1)
	go func() {
		total := 0
		for b := range blocks {
			total += len(b.Samples)
		}
		received <- total
	}()

	time.Sleep(50 * time.Millisecond)
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case total := <-received:
		if total == 0 {
			t.Fatal("expected samples before stop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not close after Stop")
	}
	if err := src.Err(); err != nil {
		t.Fatalf("clean stop should not report error: %v", err)
	}
}

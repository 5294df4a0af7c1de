package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tapedeck/internal/logging"
	"tapedeck/internal/session"
)

type fakeProgress struct {
	frames   atomic.Int64
	hasAudio atomic.Bool
}

func (p *fakeProgress) Frames() int64  { return p.frames.Load() }
func (p *fakeProgress) HasAudio() bool { return p.hasAudio.Load() }

func TestWriteNowProducesSnapshot(t *testing.T) {
	dir := t.TempDir()
	loop := &fakeProgress{}
	loop.frames.Store(44100)
	loop.hasAudio.Store(true)
	mic := &fakeProgress{}

	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{Fixed: 60 * time.Second}, loop, mic, logging.NewNop())

	if err := r.WriteNow(); err != nil {
		t.Fatalf("WriteNow: %v", err)
	}

	snap, err := Read(dir, "rec-20260101_120000")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Status != "recording" || snap.SessionID != "rec-20260101_120000" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.LoopbackFrames != 44100 || !snap.LoopbackHasAudio {
		t.Fatalf("loopback counters wrong: %+v", snap)
	}
	if snap.MicFrames != 0 || snap.MicHasAudio {
		t.Fatalf("mic counters wrong: %+v", snap)
	}
	if snap.Progress == nil {
		t.Fatal("fixed-duration session should report progress")
	}
}

func TestProgressIsWholePercent(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{Fixed: 200 * time.Millisecond},
		&fakeProgress{}, &fakeProgress{}, logging.NewNop())

	time.Sleep(100 * time.Millisecond)
	if err := r.WriteNow(); err != nil {
		t.Fatal(err)
	}

	snap, err := Read(dir, "rec-20260101_120000")
	if err != nil {
		t.Fatal(err)
	}
	// Halfway through a fixed duration reads as ~50, not ~0.5.
	if snap.Progress == nil || *snap.Progress < 25 || *snap.Progress > 100 {
		t.Fatalf("progress = %v, want a 0-100 percentage", snap.Progress)
	}
}

func TestManualSessionOmitsProgress(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{}, &fakeProgress{}, &fakeProgress{}, logging.NewNop())
	if err := r.WriteNow(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(session.StatusPath(dir, "rec-20260101_120000"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if _, present := doc["progress"]; present {
		t.Fatal("manual session must omit progress key")
	}
}

func TestSetStateReflectedInSnapshot(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{}, &fakeProgress{}, &fakeProgress{}, logging.NewNop())
	r.SetState(session.StateMerging)
	if err := r.WriteNow(); err != nil {
		t.Fatal(err)
	}
	snap, _ := Read(dir, "rec-20260101_120000")
	if snap.Status != "merging" {
		t.Fatalf("status = %q", snap.Status)
	}
}

func TestSetOutputRecordsArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "rec-20260101_120000.wav")
	if err := os.WriteFile(artifact, make([]byte, 2*1024*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{}, &fakeProgress{}, &fakeProgress{}, logging.NewNop())
	r.SetState(session.StateCompleted)
	r.SetOutput(artifact, true)
	if err := r.WriteNow(); err != nil {
		t.Fatal(err)
	}

	snap, err := Read(dir, "rec-20260101_120000")
	if err != nil {
		t.Fatal(err)
	}
	if snap.OutputFile != artifact {
		t.Fatalf("output_file = %q", snap.OutputFile)
	}
	if snap.FileSizeMB != 2 {
		t.Fatalf("file_size_mb = %v, want 2", snap.FileSizeMB)
	}
	if !snap.Partial {
		t.Fatal("partial flag lost")
	}
}

func TestRunWritesFinalSnapshotOnCancel(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "rec-20260101_120000", time.Hour, // tick never fires
		session.DurationPolicy{}, &fakeProgress{}, &fakeProgress{}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	time.Sleep(20 * time.Millisecond)
	r.SetState(session.StateStopping)
	cancel()
	<-done

	snap, err := Read(dir, "rec-20260101_120000")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Status != "stopping" {
		t.Fatalf("final status = %q, want stopping", snap.Status)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "rec-20260101_120000", time.Second,
		session.DurationPolicy{}, &fakeProgress{}, &fakeProgress{}, logging.NewNop())
	if err := r.WriteNow(); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(session.StatusPath(dir, "rec-20260101_120000")); !os.IsNotExist(err) {
		t.Fatal("status file should be gone")
	}
	// Removing twice is fine.
	if err := r.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

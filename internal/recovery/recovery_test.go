package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"tapedeck/internal/config"
	"tapedeck/internal/logging"
	"tapedeck/internal/media/ffprobe"
	"tapedeck/internal/merge"
	"tapedeck/internal/session"
	"tapedeck/internal/status"
	"tapedeck/internal/store"
	"tapedeck/internal/wav"
)

// wavProber probes WAV files by parsing their headers directly, standing in
// for the real ffprobe subprocess.
type wavProber struct{}

func (wavProber) Probe(_ context.Context, path string) (ffprobe.Info, error) {
	info, err := wav.ReadInfo(path)
	if err != nil {
		return ffprobe.Info{}, err
	}
	seconds := float64(info.Frames) / float64(info.Spec.SampleRate)
	return ffprobe.Info{
		Codec:      "pcm_s16le",
		SampleRate: info.Spec.SampleRate,
		Channels:   info.Spec.Channels,
		Duration:   time.Duration(seconds * float64(time.Second)),
	}, nil
}

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	scanner *Scanner
}

func newFixture(t *testing.T, ffmpegScript string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are posix-only")
	}
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
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	bin := filepath.Join(root, "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+ffmpegScript), 0o755); err != nil {
		t.Fatal(err)
	}

	st, err := store.Open(context.Background(), cfg.Paths.StateDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	engine := merge.NewEngine(bin, wavProber{}, "192k", time.Minute, logging.NewNop())
	return &fixture{
		cfg:     cfg,
		store:   st,
		scanner: NewScanner(cfg, st, engine, logging.NewNop()),
	}
}

const writeLastArg = `for last; do :; done
echo "salvaged" > "$last"`

func writeStream(t *testing.T, f *fixture, id string, role session.ChannelRole, frames int) {
	t.Helper()
	w, err := wav.NewWriter(session.TempWAVPath(f.cfg.Paths.TempDir, id, role),
		wav.Spec{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if frames > 0 {
		samples := make([]int16, frames)
		for i := range samples {
			samples[i] = 5000
		}
		if err := w.WriteSamples(samples); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func createRecord(t *testing.T, f *fixture, id string) {
	t.Helper()
	quality, _ := session.ParseQuality("quick")
	if err := f.store.Create(context.Background(), &session.Session{
		ID:      id,
		Quality: quality,
		Format:  session.FormatWAV,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRunSalvagesInterruptedSession(t *testing.T) {
	f := newFixture(t, writeLastArg)
	ctx := context.Background()
	id := "rec-20260101_090000"
	writeStream(t, f, id, session.RoleLoopback, 16000)
	writeStream(t, f, id, session.RoleMic, 8000)
	createRecord(t, f, id)
	if err := status.RequestStop(f.cfg.Paths.SignalDir, id); err != nil {
		t.Fatal(err)
	}

	report, err := f.scanner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Recovered() != 1 || report.Failed() != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Outcomes[0].Partial {
		t.Fatal("both channels participated, not a partial salvage")
	}

	output := session.OutputPath(f.cfg.Paths.OutputDir, id, session.FormatWAV)
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	// Temp streams and the stop signal are cleaned up.
	if _, err := os.Stat(session.TempWAVPath(f.cfg.Paths.TempDir, id, session.RoleLoopback)); !os.IsNotExist(err) {
		t.Fatal("loopback temp should be removed")
	}
	if status.StopRequested(f.cfg.Paths.SignalDir, id) {
		t.Fatal("stop signal should be cleared")
	}

	record, err := f.store.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if record.State != session.StateCompleted || record.Output != output {
		t.Fatalf("record = %s / %q", record.State, record.Output)
	}
}

func TestSetFormatOverridesRecordedFormat(t *testing.T) {
	f := newFixture(t, writeLastArg)
	ctx := context.Background()
	id := "rec-20260101_091500"
	writeStream(t, f, id, session.RoleLoopback, 16000)
	createRecord(t, f, id)

	f.scanner.SetFormat(session.FormatM4A)
	report, err := f.scanner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Recovered() != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !report.Outcomes[0].Partial {
		t.Fatal("single-channel salvage should be flagged partial")
	}

	output := session.OutputPath(f.cfg.Paths.OutputDir, id, session.FormatM4A)
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("m4a artifact missing: %v", err)
	}
}

func TestSetTargetLimitsScanToOneSession(t *testing.T) {
	f := newFixture(t, writeLastArg)
	ctx := context.Background()
	wanted := "rec-20260101_092000"
	other := "rec-20260101_093000"
	for _, id := range []string{wanted, other} {
		writeStream(t, f, id, session.RoleLoopback, 16000)
		createRecord(t, f, id)
	}

	f.scanner.SetTarget(wanted)
	report, err := f.scanner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].SessionID != wanted {
		t.Fatalf("report = %+v", report)
	}
	// The other session's leftovers are untouched.
	if _, err := os.Stat(session.TempWAVPath(f.cfg.Paths.TempDir, other, session.RoleLoopback)); err != nil {
		t.Fatalf("other session temp should survive: %v", err)
	}
}

func TestRunDiscardsEmptyStreams(t *testing.T) {
	f := newFixture(t, writeLastArg)
	ctx := context.Background()
	id := "rec-20260101_090000"
	writeStream(t, f, id, session.RoleLoopback, 0)
	writeStream(t, f, id, session.RoleMic, 0)
	createRecord(t, f, id)

	report, err := f.scanner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 1 || !report.Outcomes[0].Discarded {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(session.TempWAVPath(f.cfg.Paths.TempDir, id, session.RoleMic)); !os.IsNotExist(err) {
		t.Fatal("empty temp should be removed")
	}
	record, _ := f.store.GetByID(ctx, id)
	if record.State != session.StateFailed {
		t.Fatalf("record state = %s", record.State)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, writeLastArg)
	ctx := context.Background()
	id := "rec-20260101_090000"
	writeStream(t, f, id, session.RoleLoopback, 16000)
	createRecord(t, f, id)

	if _, err := f.scanner.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	report, err := f.scanner.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Fatalf("second run found candidates: %+v", report.Outcomes)
	}
}

func TestRunSkipsLiveSession(t *testing.T) {
	f := newFixture(t, writeLastArg)
	id := "rec-20260101_090000"
	writeStream(t, f, id, session.RoleLoopback, 16000)
	// A freshly-updated status file marks the session as live.
	if err := os.WriteFile(session.StatusPath(f.cfg.Paths.StatusDir, id),
		[]byte(`{"status":"recording","session_id":"`+id+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Fatalf("live session recovered: %+v", report.Outcomes)
	}
	if _, err := os.Stat(session.TempWAVPath(f.cfg.Paths.TempDir, id, session.RoleLoopback)); err != nil {
		t.Fatal("live session temp must be untouched")
	}
}

func TestRunReportsPartialFailure(t *testing.T) {
	f := newFixture(t, `echo "merge exploded" >&2; exit 1`)
	ctx := context.Background()
	id := "rec-20260101_090000"
	writeStream(t, f, id, session.RoleLoopback, 16000)
	createRecord(t, f, id)

	report, err := f.scanner.Run(ctx)
	if !errors.Is(err, session.ErrRecoveryPartial) {
		t.Fatalf("err = %v, want ErrRecoveryPartial", err)
	}
	if report.Failed() != 1 {
		t.Fatalf("report = %+v", report)
	}
	// Failed merges keep their temp streams for a retry.
	if _, statErr := os.Stat(session.TempWAVPath(f.cfg.Paths.TempDir, id, session.RoleLoopback)); statErr != nil {
		t.Fatal("temp stream should survive a failed merge")
	}
	record, _ := f.store.GetByID(ctx, id)
	if record.State != session.StateFailed {
		t.Fatalf("record state = %s", record.State)
	}
}

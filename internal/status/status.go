package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"tapedeck/internal/fileutil"
	"tapedeck/internal/logging"
	"tapedeck/internal/session"
)

// Snapshot is the JSON document written for an active session. External
// tools poll these files instead of talking to the recording process.
type Snapshot struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	// Elapsed is whole seconds since capture started.
	Elapsed int64 `json:"elapsed"`
	// Progress is the 0-100 percentage of a fixed duration; omitted for
	// manual-stop sessions.
	Progress         *int  `json:"progress,omitempty"`
	LoopbackFrames   int64 `json:"loopback_frames"`
	LoopbackHasAudio bool  `json:"loopback_has_audio"`
	MicFrames        int64 `json:"mic_frames"`
	MicHasAudio      bool  `json:"mic_has_audio"`
	// OutputFile and FileSizeMB are set once the final artifact exists;
	// Partial marks one built from a single surviving channel.
	OutputFile string  `json:"output_file,omitempty"`
	FileSizeMB float64 `json:"file_size_mb,omitempty"`
	Partial    bool    `json:"partial,omitempty"`
}

// Progressor exposes the live counters of one capture channel.
type Progressor interface {
	Frames() int64
	HasAudio() bool
}

// Reporter periodically writes a session's snapshot file. Writes go through
// a temp file and rename so readers never observe a half-written document.
type Reporter struct {
	path      string
	id        string
	interval  time.Duration
	policy    session.DurationPolicy
	startedAt time.Time
	loopback  Progressor
	mic       Progressor
	logger    *slog.Logger

	mu         sync.Mutex
	state      session.State
	outputFile string
	fileSizeMB float64
	partial    bool
}

// NewReporter builds a reporter for one session. The snapshot lands at
// session.StatusPath(statusDir, id).
func NewReporter(statusDir, id string, interval time.Duration, policy session.DurationPolicy, loopback, mic Progressor, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		path:      session.StatusPath(statusDir, id),
		id:        id,
		interval:  interval,
		policy:    policy,
		startedAt: time.Now(),
		loopback:  loopback,
		mic:       mic,
		logger:    logging.WithComponent(logger, "status"),
		state:     session.StateRecording,
	}
}

// SetState changes the status string used in subsequent snapshots.
func (r *Reporter) SetState(state session.State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// SetOutput records the final artifact so the terminal snapshot names it.
func (r *Reporter) SetOutput(path string, partial bool) {
	var sizeMB float64
	if info, err := os.Stat(path); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}
	r.mu.Lock()
	r.outputFile = path
	r.fileSizeMB = sizeMB
	r.partial = partial
	r.mu.Unlock()
}

func (r *Reporter) snapshot() Snapshot {
	r.mu.Lock()
	state := r.state
	outputFile := r.outputFile
	fileSizeMB := r.fileSizeMB
	partial := r.partial
	r.mu.Unlock()

	elapsed := time.Since(r.startedAt)
	snap := Snapshot{
		Status:           string(state),
		SessionID:        r.id,
		Elapsed:          int64(elapsed / time.Second),
		LoopbackFrames:   r.loopback.Frames(),
		LoopbackHasAudio: r.loopback.HasAudio(),
		MicFrames:        r.mic.Frames(),
		MicHasAudio:      r.mic.HasAudio(),
		OutputFile:       outputFile,
		FileSizeMB:       fileSizeMB,
		Partial:          partial,
	}
	if !r.policy.Manual() {
		percent := int(elapsed * 100 / r.policy.Fixed)
		if percent > 100 {
			percent = 100
		}
		snap.Progress = &percent
	}
	return snap
}

// WriteNow writes one snapshot immediately.
func (r *Reporter) WriteNow() error {
	data, err := json.MarshalIndent(r.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode status snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}

// Run ticks until ctx is cancelled, then writes one final snapshot so the
// file reflects the state the session ended in. Write failures are logged
// and do not interrupt the recording.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.WriteNow(); err != nil {
		r.logger.Warn("status write failed", logging.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			if err := r.WriteNow(); err != nil {
				r.logger.Warn("final status write failed", logging.Error(err))
			}
			return
		case <-ticker.C:
			if err := r.WriteNow(); err != nil {
				r.logger.Warn("status write failed", logging.Error(err))
			}
		}
	}
}

// Remove deletes the snapshot file once the session reaches a terminal state.
func (r *Reporter) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Read loads one session's snapshot from statusDir.
func Read(statusDir, id string) (Snapshot, error) {
	data, err := os.ReadFile(session.StatusPath(statusDir, id))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse status for %s: %w", id, err)
	}
	return snap, nil
}

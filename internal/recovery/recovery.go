package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"tapedeck/internal/config"
	"tapedeck/internal/logging"
	"tapedeck/internal/merge"
	"tapedeck/internal/session"
	"tapedeck/internal/status"
	"tapedeck/internal/store"
	"tapedeck/internal/wav"
)

// liveStatusWindow is how fresh a status snapshot must be for its session to
// be treated as still running and left alone.
const liveStatusWindow = 10 * time.Second

// Outcome says what happened to one interrupted session.
type Outcome struct {
	SessionID string
	// Output is the salvaged artifact path, empty when nothing was worth
	// keeping.
	Output string
	// Discarded is true when the temp streams held no audio.
	Discarded bool
	// Partial is true when only one channel survived into the artifact.
	Partial bool
	Err     error
}

// Report summarizes one recovery run.
type Report struct {
	Outcomes []Outcome
}

// Recovered counts sessions that produced an artifact.
func (r Report) Recovered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil && !o.Discarded {
			n++
		}
	}
	return n
}

// Failed counts sessions recovery could not salvage.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Scanner finds sessions interrupted by a crash and finishes them: temp
// streams with audio are merged into a normal artifact, empty leftovers are
// deleted. Runs are serialized by a file lock and idempotent, so scanning on
// every startup is safe.
type Scanner struct {
	cfg    *config.Config
	store  *store.Store
	engine *merge.Engine
	logger *slog.Logger
	format session.Format
	target string
}

// NewScanner builds a scanner.
func NewScanner(cfg *config.Config, st *store.Store, engine *merge.Engine, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		store:  st,
		engine: engine,
		logger: logging.WithComponent(logger, "recovery"),
	}
}

// SetFormat forces every salvaged artifact into one container format instead
// of the format the interrupted session recorded.
func (s *Scanner) SetFormat(format session.Format) {
	s.format = format
}

// SetTarget limits the scan to a single session id.
func (s *Scanner) SetTarget(id string) {
	s.target = id
}

// Run scans once. It returns session.ErrRecoveryPartial when some sessions
// could not be salvaged; the report still covers every candidate.
func (s *Scanner) Run(ctx context.Context) (Report, error) {
	// One correlation ID ties the sweep's log lines and merge jobs together.
	ctx = logging.WithCorrelationID(ctx)

	lock := flock.New(filepath.Join(s.cfg.Paths.LockDir, "recovery.lock"))
	held, err := lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("acquire recovery lock: %w", err)
	}
	if !held {
		return Report{}, errors.New("another recovery run is in progress")
	}
	defer lock.Unlock()

	ids, err := s.candidates(ctx)
	if err != nil {
		return Report{}, err
	}
	logger := logging.WithCorrelation(ctx, s.logger)
	logger.Info("recovery started",
		logging.String(logging.FieldEventType, logging.EventRecoveryStarted),
		logging.Int("candidates", len(ids)))

	var report Report
	for _, id := range ids {
		outcome := s.recoverOne(ctx, id)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Err != nil {
			logger.Error("session recovery failed",
				logging.String(logging.FieldSessionID, id),
				logging.Error(outcome.Err))
		}
	}

	logger.Info("recovery finished",
		logging.String(logging.FieldEventType, logging.EventRecoveryFinished),
		logging.Int("recovered", report.Recovered()),
		logging.Int("failed", report.Failed()))
	if report.Failed() > 0 {
		return report, fmt.Errorf("%w: %d of %d sessions not salvaged",
			session.ErrRecoveryPartial, report.Failed(), len(report.Outcomes))
	}
	return report, nil
}

// candidates collects session ids with leftovers: temp streams on disk plus
// registry rows stuck in a non-terminal state. Sessions whose status file is
// fresh belong to a live process and are skipped.
func (s *Scanner) candidates(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}

	entries, err := os.ReadDir(s.cfg.Paths.TempDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan temp directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id := session.IDFromFilename(entry.Name()); id != "" {
			seen[id] = true
		}
	}

	if s.store != nil {
		unfinished, err := s.store.ListUnfinished(ctx)
		if err != nil {
			return nil, err
		}
		for _, sess := range unfinished {
			seen[sess.ID] = true
		}
	}

	var ids []string
	for id := range seen {
		if s.target != "" && id != s.target {
			continue
		}
		if s.sessionLive(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Scanner) sessionLive(id string) bool {
	info, err := os.Stat(session.StatusPath(s.cfg.Paths.StatusDir, id))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < liveStatusWindow
}

func (s *Scanner) recoverOne(ctx context.Context, id string) Outcome {
	outcome := Outcome{SessionID: id}

	loopbackPath := session.TempWAVPath(s.cfg.Paths.TempDir, id, session.RoleLoopback)
	micPath := session.TempWAVPath(s.cfg.Paths.TempDir, id, session.RoleMic)
	loopbackOK := usable(loopbackPath)
	micOK := usable(micPath)

	record := s.lookup(ctx, id)

	if !loopbackOK && !micOK {
		outcome.Discarded = true
		s.cleanup(id, loopbackPath, micPath)
		s.markFailed(ctx, record, errors.New("no audio captured before interruption"))
		return outcome
	}

	format := session.FormatWAV
	quality, _ := session.ParseQuality("standard")
	if record != nil {
		if record.Format != "" {
			format = record.Format
		}
		if record.Quality.SampleRate > 0 {
			quality = record.Quality
		}
	}
	if s.format != "" {
		format = s.format
	}

	outputPath := session.OutputPath(s.cfg.Paths.OutputDir, id, format)
	if _, err := os.Stat(outputPath); err == nil {
		// A previous run already produced the artifact; just tidy up.
		outcome.Output = outputPath
		outcome.Partial = record != nil && record.Partial
		s.cleanup(id, loopbackPath, micPath)
		s.markCompleted(ctx, record, outputPath, outcome.Partial)
		return outcome
	}

	result, err := s.engine.Merge(ctx, merge.Request{
		SessionID:        id,
		LoopbackPath:     loopbackPath,
		MicPath:          micPath,
		LoopbackHasAudio: loopbackOK,
		MicHasAudio:      micOK,
		Quality:          quality,
		Format:           format,
		OutputPath:       outputPath,
	})
	if err != nil {
		// Temp streams stay on disk so a later run (or a human) can retry.
		outcome.Err = err
		s.markFailed(ctx, record, err)
		return outcome
	}

	outcome.Output = result.OutputPath
	outcome.Partial = result.Partial
	s.cleanup(id, loopbackPath, micPath)
	s.markCompleted(ctx, record, result.OutputPath, result.Partial)
	return outcome
}

// usable reports whether a temp stream holds at least one frame. Header-only
// files (a writer that crashed immediately) are not worth merging.
func usable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= wav.HeaderSize {
		return false
	}
	return wav.HasAudioData(path)
}

func (s *Scanner) cleanup(id string, tempPaths ...string) {
	for _, path := range tempPaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("could not remove temp stream",
				logging.String(logging.FieldPath, path), logging.Error(err))
		}
	}
	os.Remove(session.StatusPath(s.cfg.Paths.StatusDir, id))
	status.ClearStopSignal(s.cfg.Paths.SignalDir, id)
}

func (s *Scanner) lookup(ctx context.Context, id string) *session.Session {
	if s.store == nil {
		return nil
	}
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	return record
}

// markCompleted walks the record through the remaining legal transitions.
func (s *Scanner) markCompleted(ctx context.Context, record *session.Session, output string, partial bool) {
	if record == nil || record.State.Terminal() {
		return
	}
	for _, next := range []session.State{session.StateStopping, session.StateMerging} {
		if record.State.CanTransition(next) {
			if err := s.store.UpdateState(ctx, record.ID, next); err != nil {
				return
			}
			record.State = next
		}
	}
	if err := s.store.MarkCompleted(ctx, record.ID, output, partial); err != nil {
		s.logger.Warn("could not mark session completed",
			logging.String(logging.FieldSessionID, record.ID), logging.Error(err))
	}
}

func (s *Scanner) markFailed(ctx context.Context, record *session.Session, cause error) {
	if record == nil || record.State.Terminal() {
		return
	}
	if err := s.store.MarkFailed(ctx, record.ID, cause); err != nil {
		s.logger.Warn("could not mark session failed",
			logging.String(logging.FieldSessionID, record.ID), logging.Error(err))
	}
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tapedeck/internal/capture"
	"tapedeck/internal/config"
	"tapedeck/internal/devices"
	"tapedeck/internal/logging"
	"tapedeck/internal/merge"
	"tapedeck/internal/session"
	"tapedeck/internal/status"
	"tapedeck/internal/store"
	"tapedeck/internal/wav"
)

// Options configures one recording run.
type Options struct {
	Quality session.Quality
	Format  session.Format
	Policy  session.DurationPolicy
}

// Manager starts recording sessions and drives each one through its
// lifecycle: capture on two channels, periodic status snapshots, stop
// handling, merge, and registry updates.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	engine  *merge.Engine
	factory capture.Factory
	monitor *devices.Monitor
	alloc   *session.IDAllocator
	logger  *slog.Logger
}

// New builds a manager. monitor may be nil to disable unplug detection.
func New(cfg *config.Config, st *store.Store, engine *merge.Engine, factory capture.Factory, monitor *devices.Monitor, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		factory: factory,
		monitor: monitor,
		alloc:   session.NewIDAllocator(cfg.Paths.LockDir, cfg.Paths.StatusDir, cfg.Paths.TempDir),
		logger:  logging.WithComponent(logger, "manager"),
	}
}

// stopCause records why capture ended. A natural fixed-duration expiry
// moves the session straight to merging; every other cause passes through
// the stopping state first.
type stopCause int32

const (
	causeNone stopCause = iota
	causeExpiry
	causeRequested
)

// Recording is a live session handle.
type Recording struct {
	id     string
	stop   func()
	done   chan struct{}
	mu     sync.Mutex
	err    error
	output string
}

// ID returns the session identifier.
func (r *Recording) ID() string { return r.id }

// Stop requests a graceful finish. Safe to call more than once.
func (r *Recording) Stop() { r.stop() }

// Wait blocks until the session reaches a terminal state and returns the
// final artifact path, or the failure.
func (r *Recording) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output, r.err
}

func (r *Recording) finish(output string, err error) {
	r.mu.Lock()
	r.output = output
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Start allocates a session and begins capturing on both channels. The
// returned handle owns the run; cancelling ctx hard-stops it.
func (m *Manager) Start(ctx context.Context, opts Options) (*Recording, error) {
	if opts.Quality.SampleRate == 0 {
		return nil, errors.New("quality preset required")
	}
	if opts.Format == "" {
		opts.Format = session.FormatWAV
	}
	interval, err := m.cfg.StatusInterval()
	if err != nil {
		return nil, err
	}

	// One correlation ID spans the whole run, capture through merge.
	ctx = logging.WithCorrelationID(ctx)
	logger := logging.WithCorrelation(ctx, m.logger)

	id, err := m.alloc.Allocate()
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:        id,
		State:     session.StateRecording,
		Quality:   opts.Quality,
		Format:    opts.Format,
		Policy:    opts.Policy,
		StartedAt: time.Now(),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		os.Remove(session.StatusPath(m.cfg.Paths.StatusDir, id))
		return nil, err
	}

	channels, err := m.openChannels(id, opts.Quality)
	if err != nil {
		m.store.MarkFailed(ctx, id, err)
		os.Remove(session.StatusPath(m.cfg.Paths.StatusDir, id))
		return nil, err
	}

	// Stale signals from an earlier session with a recycled id must not
	// stop this one immediately.
	status.ClearStopSignal(m.cfg.Paths.SignalDir, id)

	captureCtx, stopCapture := context.WithCancel(ctx)
	var cause atomic.Int32
	requestStop := func(c stopCause) {
		cause.CompareAndSwap(int32(causeNone), int32(c))
		stopCapture()
	}
	rec := &Recording{id: id, stop: func() { requestStop(causeRequested) }, done: make(chan struct{})}

	reporter := status.NewReporter(m.cfg.Paths.StatusDir, id, interval, opts.Policy,
		channels.loopback, channels.mic, m.logger)

	logger.Info("session started",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, logging.EventSessionStarted),
		logging.String("quality", opts.Quality.Name),
		logging.String("format", string(opts.Format)),
		logging.Bool("manual_stop", opts.Policy.Manual()))

	go m.run(ctx, captureCtx, stopCapture, requestStop, &cause, rec, sess, channels, reporter)
	return rec, nil
}

type channelPair struct {
	loopback *capture.Channel
	mic      *capture.Channel
}

func (m *Manager) openChannels(id string, quality session.Quality) (*channelPair, error) {
	build := func(role session.ChannelRole, device string) (*capture.Channel, error) {
		source, err := m.factory(device, quality.SampleRate, quality.Channels,
			m.cfg.Capture.BlockFrames, m.cfg.Capture.QueueBlocks)
		if err != nil {
			return nil, session.DeviceError(string(role), err)
		}
		writer, err := wav.NewWriter(
			session.TempWAVPath(m.cfg.Paths.TempDir, id, role),
			wav.Spec{SampleRate: quality.SampleRate, Channels: quality.Channels, BitDepth: quality.BitDepth})
		if err != nil {
			return nil, session.CaptureError(role, err)
		}
		return capture.NewChannel(role, source, writer, m.cfg.Capture.SilenceThreshold, m.logger), nil
	}

	loopback, err := build(session.RoleLoopback, m.cfg.Capture.LoopbackDevice)
	if err != nil {
		return nil, err
	}
	mic, err := build(session.RoleMic, m.cfg.Capture.MicDevice)
	if err != nil {
		os.Remove(session.TempWAVPath(m.cfg.Paths.TempDir, id, session.RoleLoopback))
		return nil, err
	}
	return &channelPair{loopback: loopback, mic: mic}, nil
}

func (m *Manager) run(ctx, captureCtx context.Context, stopCapture context.CancelFunc,
	requestStop func(stopCause), cause *atomic.Int32,
	rec *Recording, sess *session.Session, channels *channelPair,
	reporter *status.Reporter) {

	logger := logging.WithCorrelation(ctx, m.logger)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	var reporterDone sync.WaitGroup
	reporterDone.Add(1)
	go func() {
		defer reporterDone.Done()
		reporter.Run(reporterCtx)
	}()

	go m.watchStopTriggers(captureCtx, requestStop, sess)

	// The legs run independently: one failing channel degrades the session
	// while the sibling keeps recording until a stop trigger fires. Audio
	// flushed before a failure stays in the temp streams.
	var (
		group       errgroup.Group
		loopbackErr error
		micErr      error
	)
	runLeg := func(role session.ChannelRole, ch *capture.Channel, out *error) func() error {
		return func() error {
			if err := ch.Run(captureCtx); err != nil {
				*out = err
				logger.Warn("capture channel failed",
					logging.String(logging.FieldSessionID, sess.ID),
					logging.String(logging.FieldChannel, string(role)),
					logging.Error(err))
			}
			return nil
		}
	}
	group.Go(runLeg(session.RoleLoopback, channels.loopback, &loopbackErr))
	group.Go(runLeg(session.RoleMic, channels.mic, &micErr))
	group.Wait()
	stopCapture()

	stoppedAt := time.Now()
	m.store.SetStoppedAt(ctx, sess.ID, stoppedAt)
	logger.Info("capture finished",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldEventType, logging.EventSessionStopped),
		logging.Int64("loopback_frames", channels.loopback.Frames()),
		logging.Int64("mic_frames", channels.mic.Frames()))

	fail := func(cause error) {
		reporter.SetState(session.StateFailed)
		stopReporter()
		reporterDone.Wait()
		m.store.MarkFailed(ctx, sess.ID, cause)
		reporter.Remove()
		status.ClearStopSignal(m.cfg.Paths.SignalDir, sess.ID)
		logger.Error("session failed",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.String(logging.FieldEventType, logging.EventSessionFailed),
			logging.Error(cause))
		rec.finish("", cause)
	}

	if loopbackErr != nil && micErr != nil {
		// Temp streams stay for `tapedeck recover`.
		fail(errors.Join(loopbackErr, micErr))
		return
	}

	// Natural expiry of a fixed duration merges directly; a requested stop
	// passes through the stopping state first.
	if stopCause(cause.Load()) != causeExpiry {
		m.store.UpdateState(ctx, sess.ID, session.StateStopping)
		reporter.SetState(session.StateStopping)
	}
	m.store.UpdateState(ctx, sess.ID, session.StateMerging)
	reporter.SetState(session.StateMerging)

	loopbackPath := session.TempWAVPath(m.cfg.Paths.TempDir, sess.ID, session.RoleLoopback)
	micPath := session.TempWAVPath(m.cfg.Paths.TempDir, sess.ID, session.RoleMic)
	outputPath := session.OutputPath(m.cfg.Paths.OutputDir, sess.ID, sess.Format)

	// A dead leg's stream is excluded even when it heard audio before
	// failing; the artifact carries only the surviving channel.
	result, err := m.engine.Merge(ctx, merge.Request{
		SessionID:        sess.ID,
		LoopbackPath:     loopbackPath,
		MicPath:          micPath,
		LoopbackHasAudio: channels.loopback.HasAudio() && loopbackErr == nil,
		MicHasAudio:      channels.mic.HasAudio() && micErr == nil,
		Quality:          sess.Quality,
		Format:           sess.Format,
		OutputPath:       outputPath,
	})
	if err != nil {
		fail(err)
		return
	}

	partial := result.Partial || loopbackErr != nil || micErr != nil
	reporter.SetState(session.StateCompleted)
	reporter.SetOutput(result.OutputPath, partial)
	stopReporter()
	reporterDone.Wait()
	m.store.MarkCompleted(ctx, sess.ID, result.OutputPath, partial)
	os.Remove(loopbackPath)
	os.Remove(micPath)
	// The terminal snapshot stays behind as a record of the session; it
	// names the final artifact and its size.
	status.ClearStopSignal(m.cfg.Paths.SignalDir, sess.ID)

	logger.Info("session completed",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldEventType, logging.EventSessionCompleted),
		logging.String(logging.FieldPath, result.OutputPath),
		logging.Duration("audio_duration", result.Duration))
	rec.finish(result.OutputPath, nil)
}

// watchStopTriggers ends capture when the duration elapses, a stop-signal
// file appears, or a sound device is removed. Manual sessions still respect
// the configured safety cap.
func (m *Manager) watchStopTriggers(captureCtx context.Context, requestStop func(stopCause), sess *session.Session) {
	logger := logging.WithCorrelation(captureCtx, m.logger)
	limit := time.Duration(m.cfg.Recording.MaxDurationSeconds) * time.Second
	naturalExpiry := !sess.Policy.Manual() && sess.Policy.Fixed <= limit
	if naturalExpiry {
		limit = sess.Policy.Fixed
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()

	poll := time.NewTicker(m.signalPollInterval())
	defer poll.Stop()

	var unplug chan devices.Event
	if m.monitor != nil {
		unplug = make(chan devices.Event, 4)
		m.monitor.Start(captureCtx, unplug)
		defer m.monitor.Stop()
	}

	for {
		select {
		case <-captureCtx.Done():
			return
		case <-timer.C:
			logger.Info("duration limit reached, stopping",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.Duration("limit", limit))
			if naturalExpiry {
				requestStop(causeExpiry)
			} else {
				// The manual-session safety cap is a forced stop.
				requestStop(causeRequested)
			}
			return
		case <-poll.C:
			if status.StopRequested(m.cfg.Paths.SignalDir, sess.ID) {
				logger.Info("stop signal received",
					logging.String(logging.FieldSessionID, sess.ID))
				requestStop(causeRequested)
				return
			}
		case ev := <-unplug:
			// The affected card may not even be ours; stop and salvage
			// rather than let a dead ffmpeg stall the session.
			logger.Warn("sound device removed, stopping",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.String("devpath", ev.DevPath))
			requestStop(causeRequested)
			return
		}
	}
}

func (m *Manager) signalPollInterval() time.Duration {
	if interval, err := m.cfg.StatusInterval(); err == nil {
		return interval
	}
	return time.Second
}

// NewFFmpegFactory is the production capture factory.
func NewFFmpegFactory(binary string) capture.Factory {
	return func(device string, sampleRate, channels, blockFrames, queueBlocks int) (capture.Source, error) {
		if blockFrames <= 0 || queueBlocks <= 0 {
			return nil, fmt.Errorf("invalid capture buffering: block_frames=%d queue_blocks=%d", blockFrames, queueBlocks)
		}
		return capture.NewFFmpegSource(binary, device, sampleRate, channels, blockFrames, queueBlocks), nil
	}
}

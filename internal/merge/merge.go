package merge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"tapedeck/internal/logging"
	"tapedeck/internal/media/ffprobe"
	"tapedeck/internal/session"
	"tapedeck/internal/wav"
)

// Request describes one merge job. The has-audio flags come from the capture
// channels and decide which inputs participate.
type Request struct {
	SessionID        string
	LoopbackPath     string
	MicPath          string
	LoopbackHasAudio bool
	MicHasAudio      bool
	Quality          session.Quality
	Format           session.Format
	OutputPath       string
}

// Result reports the finished artifact. Partial means only one channel
// contributed, so the other side of the stereo image is silence.
type Result struct {
	OutputPath string
	Duration   time.Duration
	SampleRate int
	Partial    bool
}

// Engine turns a session's temp streams into the final artifact. The two
// sources are never mixed into one another: loopback occupies the left
// channel and microphone the right, padding the shorter stream with silence.
type Engine struct {
	ffmpeg     string
	prober     ffprobe.Prober
	aacBitrate string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewEngine builds a merge engine.
func NewEngine(ffmpegBinary string, prober ffprobe.Prober, aacBitrate string, timeout time.Duration, logger *slog.Logger) *Engine {
	if aacBitrate == "" {
		aacBitrate = "192k"
	}
	return &Engine{
		ffmpeg:     ffmpegBinary,
		prober:     prober,
		aacBitrate: aacBitrate,
		timeout:    timeout,
		logger:     logging.WithComponent(logger, "merge"),
	}
}

// input is one probed merge participant.
type input struct {
	path string
	role session.ChannelRole
	info ffprobe.Info
}

// plan resolves which streams participate and the common target parameters.
type plan struct {
	inputs     []input
	sampleRate int
	duration   time.Duration
}

func (e *Engine) plan(ctx context.Context, req Request) (plan, error) {
	var candidates []input
	if req.LoopbackHasAudio {
		candidates = append(candidates, input{path: req.LoopbackPath, role: session.RoleLoopback})
	}
	if req.MicHasAudio {
		candidates = append(candidates, input{path: req.MicPath, role: session.RoleMic})
	}
	if len(candidates) == 0 {
		// Neither channel crossed the silence threshold. Streams that
		// still hold frames merge into a valid (silent) artifact; only
		// header-only files are unusable.
		for _, cand := range []input{
			{path: req.LoopbackPath, role: session.RoleLoopback},
			{path: req.MicPath, role: session.RoleMic},
		} {
			if holdsFrames(cand.path) {
				candidates = append(candidates, cand)
			}
		}
	}
	if len(candidates) == 0 {
		return plan{}, fmt.Errorf("no audio captured on either channel")
	}

	p := plan{sampleRate: req.Quality.SampleRate}
	for _, cand := range candidates {
		info, err := e.prober.Probe(ctx, cand.path)
		if err != nil {
			return plan{}, fmt.Errorf("probe %s stream: %w", cand.role, err)
		}
		cand.info = info
		p.inputs = append(p.inputs, cand)
		// The output runs at the highest input rate so nothing is
		// downsampled, and as long as the longest input.
		if info.SampleRate > p.sampleRate {
			p.sampleRate = info.SampleRate
		}
		if info.Duration > p.duration {
			p.duration = info.Duration
		}
	}
	return p, nil
}

// holdsFrames reports whether a temp stream contains sample data past the
// WAV header.
func holdsFrames(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > wav.HeaderSize
}

// monoDownmix collapses an input to one channel without touching the other leg.
func monoDownmix(channels int) string {
	if channels >= 2 {
		return "pan=mono|c0=0.5*c0+0.5*c1"
	}
	return "pan=mono|c0=c0"
}

// filterGraph builds the dual-mono layout: loopback feeds the left channel,
// microphone the right. A missing leg becomes digital silence on its side.
func filterGraph(p plan) string {
	pad := ""
	if len(p.inputs) == 2 && p.duration > 0 {
		pad = fmt.Sprintf(",apad=whole_dur=%.3f", p.duration.Seconds())
	}

	var sb strings.Builder
	for i, in := range p.inputs {
		fmt.Fprintf(&sb, "[%d:a]aresample=%d,%s%s[s%d];", i, p.sampleRate, monoDownmix(in.info.Channels), pad, i)
	}

	if len(p.inputs) == 2 {
		sb.WriteString("[s0][s1]amerge=inputs=2,pan=stereo|c0=c0|c1=c1[out]")
		return sb.String()
	}
	if p.inputs[0].role == session.RoleLoopback {
		sb.WriteString("[s0]pan=stereo|c0=c0|c1=0*c0[out]")
	} else {
		sb.WriteString("[s0]pan=stereo|c0=0*c0|c1=c0[out]")
	}
	return sb.String()
}

func (e *Engine) outputArgs(format session.Format) []string {
	switch format {
	case session.FormatM4A:
		return []string{"-c:a", "aac", "-b:a", e.aacBitrate, "-movflags", "+faststart", "-f", "mp4"}
	default:
		return []string{"-c:a", "pcm_s16le", "-f", "wav"}
	}
}

func (e *Engine) buildArgs(p plan, format session.Format, partialPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	for _, in := range p.inputs {
		args = append(args, "-i", in.path)
	}
	args = append(args,
		"-filter_complex", filterGraph(p),
		"-map", "[out]",
		"-ar", strconv.Itoa(p.sampleRate),
	)
	args = append(args, e.outputArgs(format)...)
	args = append(args, "-progress", "pipe:1", "-nostats", partialPath)
	return args
}

// Merge runs the job. The artifact is written to OutputPath+".partial" and
// renamed into place only on success, so a crashed merge leaves no
// plausible-looking output behind.
func (e *Engine) Merge(ctx context.Context, req Request) (Result, error) {
	// Standalone jobs (recovery, tests) get their own correlation ID; a
	// session run's ID is reused when the context already carries one.
	ctx = logging.WithCorrelationID(ctx)
	logger := logging.WithCorrelation(ctx, e.logger)

	p, err := e.plan(ctx, req)
	if err != nil {
		return Result{}, session.MergeError(req.SessionID, err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	staging := req.OutputPath + ".partial"
	args := e.buildArgs(p, req.Format, staging)
	logger.Info("merge started",
		logging.String(logging.FieldSessionID, req.SessionID),
		logging.String(logging.FieldEventType, logging.EventMergeStarted),
		logging.Int("inputs", len(p.inputs)),
		logging.Int("sample_rate", p.sampleRate))

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, session.MergeError(req.SessionID, err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(staging)
		return Result{}, session.MergeError(req.SessionID, err)
	}

	lastOutTime := e.watchProgress(logger, req.SessionID, stdout)

	if err := cmd.Wait(); err != nil {
		os.Remove(staging)
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return Result{}, session.MergeError(req.SessionID, err)
	}

	if err := os.Rename(staging, req.OutputPath); err != nil {
		os.Remove(staging)
		return Result{}, session.MergeError(req.SessionID, err)
	}

	duration := p.duration
	if lastOutTime > duration {
		duration = lastOutTime
	}
	logger.Info("merge completed",
		logging.String(logging.FieldSessionID, req.SessionID),
		logging.String(logging.FieldEventType, logging.EventMergeCompleted),
		logging.String(logging.FieldPath, req.OutputPath),
		logging.Duration("audio_duration", duration))
	return Result{
		OutputPath: req.OutputPath,
		Duration:   duration,
		SampleRate: p.sampleRate,
		Partial:    len(p.inputs) == 1,
	}, nil
}

// watchProgress consumes ffmpeg's -progress stream and returns the last
// reported output timestamp.
func (e *Engine) watchProgress(logger *slog.Logger, id string, r io.Reader) time.Duration {
	var last time.Duration
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if d, ok := parseProgressLine(scanner.Text()); ok {
			last = d
			logger.Debug("merge progress",
				logging.String(logging.FieldSessionID, id),
				logging.Duration("out_time", d))
		}
	}
	return last
}

// parseProgressLine extracts out_time_us from one -progress key=value line.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || key != "out_time_us" {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

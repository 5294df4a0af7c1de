package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FFmpegSource captures from a system audio device by running ffmpeg with a
// raw s16le pipe on stdout. Stop sends SIGINT so ffmpeg flushes its input
// buffers before exiting; the reader then drains the pipe to EOF.
type FFmpegSource struct {
	binary      string
	device      string
	sampleRate  int
	channels    int
	blockFrames int
	queueBlocks int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
	err     error
	done    chan struct{}
}

// NewFFmpegSource configures a source for one device.
func NewFFmpegSource(binary, device string, sampleRate, channels, blockFrames, queueBlocks int) *FFmpegSource {
	return &FFmpegSource{
		binary:      binary,
		device:      device,
		sampleRate:  sampleRate,
		channels:    channels,
		blockFrames: blockFrames,
		queueBlocks: queueBlocks,
	}
}

// inputArgs picks the ffmpeg grab arguments for the current platform. ALSA
// hardware names (hw:..., plughw:...) bypass the sound server on Linux.
func (s *FFmpegSource) inputArgs() []string {
	device := s.device
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = ":default"
		}
		return []string{"-f", "avfoundation", "-i", device}
	default:
		if strings.HasPrefix(device, "hw:") || strings.HasPrefix(device, "plughw:") {
			return []string{"-f", "alsa", "-i", device}
		}
		if device == "" {
			device = "default"
		}
		return []string{"-f", "pulse", "-i", device}
	}
}

func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, s.inputArgs()...)
	args = append(args,
		"-ac", strconv.Itoa(s.channels),
		"-ar", strconv.Itoa(s.sampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)
	return args
}

// Start launches ffmpeg and begins streaming blocks.
func (s *FFmpegSource) Start(ctx context.Context) (<-chan Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil, errors.New("source already started")
	}

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	// Cancellation is cooperative: SIGINT lets ffmpeg flush its buffers
	// and close the stream. WaitDelay kills a process that ignores it.
	cmd.Cancel = func() error {
		err := cmd.Process.Signal(syscall.SIGINT)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", s.deviceLabel(), err)
	}
	s.cmd = cmd
	s.done = make(chan struct{})

	blocks := make(chan Block, s.queueBlocks)
	go s.read(ctx, stdout, blocks)
	return blocks, nil
}

func (s *FFmpegSource) read(ctx context.Context, stdout io.Reader, blocks chan<- Block) {
	defer close(blocks)
	defer close(s.done)

	blockBytes := s.blockFrames * s.channels * 2
	buf := make([]byte, blockBytes)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			// A trailing partial block is still whole frames; keep them.
			usable := n - n%(s.channels*2)
			if usable > 0 {
				samples := make([]int16, usable/2)
				for i := range samples {
					samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
				}
				blocks <- Block{Samples: samples}
			}
		}
		if err != nil {
			waitErr := s.cmd.Wait()
			s.mu.Lock()
			// A cancelled context is a deliberate stop just like Stop():
			// ffmpeg's SIGINT exit status is not a stream failure.
			deliberate := s.stopped || ctx.Err() != nil
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.err = err
			} else if waitErr != nil && !deliberate {
				s.err = fmt.Errorf("ffmpeg for %s: %w", s.deviceLabel(), waitErr)
			}
			s.mu.Unlock()
			return
		}
	}
}

// Stop asks ffmpeg to finish and waits for the stream to drain.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	if s.cmd == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	proc := s.cmd.Process
	done := s.done
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	<-done
	return nil
}

// Err reports the terminal stream error, nil for a clean stop.
func (s *FFmpegSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FFmpegSource) deviceLabel() string {
	if s.device == "" {
		return "default device"
	}
	return s.device
}

package testsupport

import (
	"context"
	"sync"
	"time"

	"tapedeck/internal/capture"
)

// SyntheticSource streams constant-amplitude blocks without real hardware.
// Amplitude zero produces digital silence; MaxBlocks <= 0 streams until
// stopped.
type SyntheticSource struct {
	Amplitude   int16
	BlockFrames int
	Channels    int
	Interval    time.Duration
	MaxBlocks   int
	FailAfter   error // returned from Err after MaxBlocks, if set

	mu      sync.Mutex
	stopped chan struct{}
	err     error
	started bool
}

// Start begins delivering blocks.
func (s *SyntheticSource) Start(ctx context.Context) (<-chan capture.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, context.Canceled
	}
	s.started = true
	s.stopped = make(chan struct{})

	frames := s.BlockFrames
	if frames <= 0 {
		frames = 256
	}
	channels := s.Channels
	if channels <= 0 {
		channels = 1
	}

	out := make(chan capture.Block, 4)
	go func() {
		defer close(out)
		sent := 0
		for {
			if s.MaxBlocks > 0 && sent >= s.MaxBlocks {
				if s.FailAfter != nil {
					s.mu.Lock()
					s.err = s.FailAfter
					s.mu.Unlock()
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			default:
			}
			samples := make([]int16, frames*channels)
			for i := range samples {
				samples[i] = s.Amplitude
			}
			select {
			case out <- capture.Block{Samples: samples}:
				sent++
			case <-s.stopped:
				return
			case <-ctx.Done():
				return
			}
			if s.Interval > 0 {
				select {
				case <-time.After(s.Interval):
				case <-s.stopped:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Stop ends the stream.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped != nil {
		select {
		case <-s.stopped:
		default:
			close(s.stopped)
		}
	}
	return nil
}

// Err reports the terminal error.
func (s *SyntheticSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SyntheticConfig shapes the sources a factory hands out. It carries only the
// knobs, not the source's runtime state, so values copy freely.
type SyntheticConfig struct {
	Amplitude int16
	Interval  time.Duration
	MaxBlocks int
	FailAfter error
}

// SyntheticFactory returns a capture.Factory producing one SyntheticSource
// per channel from cfg. Sources are recorded in order so tests can inspect
// them.
func SyntheticFactory(cfg SyntheticConfig, created *[]*SyntheticSource) capture.Factory {
	return SyntheticFactoryFor(func(string) SyntheticConfig { return cfg }, created)
}

// SyntheticFactoryFor selects a config per device name, letting one channel
// misbehave while its sibling keeps streaming.
func SyntheticFactoryFor(pick func(device string) SyntheticConfig, created *[]*SyntheticSource) capture.Factory {
	var mu sync.Mutex
	return func(device string, sampleRate, channels, blockFrames, queueBlocks int) (capture.Source, error) {
		cfg := pick(device)
		src := &SyntheticSource{
			Amplitude:   cfg.Amplitude,
			BlockFrames: blockFrames,
			Channels:    channels,
			Interval:    cfg.Interval,
			MaxBlocks:   cfg.MaxBlocks,
			FailAfter:   cfg.FailAfter,
		}
		if created != nil {
			mu.Lock()
			*created = append(*created, src)
			mu.Unlock()
		}
		return src, nil
	}
}

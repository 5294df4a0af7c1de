package capture

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"tapedeck/internal/logging"
	"tapedeck/internal/session"
	"tapedeck/internal/wav"
)

// Channel pumps one source into one WAV temp stream and keeps the live
// progress counters read by the status reporter. Frames and HasAudio are
// safe to call from any goroutine while Run is active.
type Channel struct {
	role      session.ChannelRole
	source    Source
	writer    *wav.Writer
	threshold float64
	logger    *slog.Logger

	frames   atomic.Int64
	hasAudio atomic.Bool
}

// NewChannel wires a source to a WAV writer. threshold is the RMS amplitude
// (16-bit sample scale) above which a block counts as audible.
func NewChannel(role session.ChannelRole, source Source, writer *wav.Writer, threshold int, logger *slog.Logger) *Channel {
	return &Channel{
		role:      role,
		source:    source,
		writer:    writer,
		threshold: float64(threshold),
		logger:    logging.WithComponent(logger, "capture"),
	}
}

// Role names this channel's leg.
func (c *Channel) Role() session.ChannelRole { return c.role }

// Frames returns frames written so far.
func (c *Channel) Frames() int64 { return c.frames.Load() }

// HasAudio reports whether any block so far exceeded the silence threshold.
func (c *Channel) HasAudio() bool { return c.hasAudio.Load() }

// Run streams blocks until the source ends. Cancelling ctx requests a stop
// but never abandons queued blocks: the channel drains everything the source
// delivered before returning. The writer is closed on exit either way.
func (c *Channel) Run(ctx context.Context) error {
	blocks, err := c.source.Start(ctx)
	if err != nil {
		c.writer.Close()
		return session.DeviceError(string(c.role), err)
	}
	c.logger.Debug("channel started", logging.String(logging.FieldChannel, string(c.role)))

	var (
		writeErr error
		stopErr  chan error
	)
	for {
		select {
		case <-ctx.Done():
			if stopErr == nil {
				// Stop blocks until the stream drains to EOF, and the
				// source blocks sending into the bounded queue, so the
				// stop must run concurrently with the drain below.
				stopErr = make(chan error, 1)
				go func() { stopErr <- c.source.Stop() }()
			}
			block, ok := <-blocks
			if !ok {
				return c.finish(writeErr, stopErr)
			}
			c.consume(block, &writeErr)
		case block, ok := <-blocks:
			if !ok {
				return c.finish(writeErr, stopErr)
			}
			c.consume(block, &writeErr)
		}
	}
}

func (c *Channel) consume(block Block, writeErr *error) {
	if len(block.Samples) == 0 {
		return
	}
	if *writeErr == nil {
		if err := c.writer.WriteSamples(block.Samples); err != nil {
			*writeErr = session.CaptureError(c.role, err)
			c.logger.Error("temp stream write failed",
				logging.String(logging.FieldChannel, string(c.role)),
				logging.Error(err))
		}
	}
	c.frames.Store(c.writer.Frames())
	if !c.hasAudio.Load() && rms(block.Samples) > c.threshold {
		c.hasAudio.Store(true)
	}
}

func (c *Channel) finish(writeErr error, stopErr chan error) error {
	if stopErr != nil {
		if err := <-stopErr; err != nil && writeErr == nil {
			writeErr = session.CaptureError(c.role, err)
		}
	}
	closeErr := c.writer.Close()
	c.logger.Debug("channel stopped",
		logging.String(logging.FieldChannel, string(c.role)),
		logging.Int64(logging.FieldFrames, c.Frames()),
		logging.Bool("has_audio", c.HasAudio()))
	if writeErr != nil {
		return writeErr
	}
	if err := c.source.Err(); err != nil {
		return session.CaptureError(c.role, err)
	}
	if closeErr != nil {
		return session.CaptureError(c.role, closeErr)
	}
	return nil
}

// rms is the root-mean-square amplitude of a block.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

package capture

import "context"

// Block is one batch of interleaved 16-bit PCM frames from a source.
type Block struct {
	Samples []int16
}

// Source produces a stream of PCM blocks. Start returns a channel that closes
// when the stream ends, either because Stop was called or because the source
// failed; Err reports which after the close. Delivery is lossless: when the
// consumer falls behind, the source blocks rather than dropping frames.
type Source interface {
	Start(ctx context.Context) (<-chan Block, error)
	Stop() error
	Err() error
}

// Factory builds a source for one capture leg. The manager uses it so tests
// can substitute synthetic sources for real ffmpeg processes.
type Factory func(device string, sampleRate, channels, blockFrames, queueBlocks int) (Source, error)

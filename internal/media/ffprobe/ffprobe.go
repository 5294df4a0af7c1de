// Package ffprobe wraps the ffprobe binary to inspect audio files before
// merging: sample rate, channel count, codec, and duration.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info describes the first audio stream of a media file.
type Info struct {
	Codec      string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Prober inspects media files. The concrete implementation shells out to
// ffprobe; tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// Client runs the ffprobe binary.
type Client struct {
	binary string
}

// NewClient returns a Client using the given binary name or path.
func NewClient(binary string) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Client{binary: binary}
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects path and returns its first audio stream.
func (c *Client) Probe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, c.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Info{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, detail)
		}
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}

	for _, stream := range out.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		info := Info{
			Codec:    stream.CodecName,
			Channels: stream.Channels,
		}
		if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
			info.SampleRate = rate
		}
		if d := parseDuration(stream.Duration); d > 0 {
			info.Duration = d
		} else {
			info.Duration = parseDuration(out.Format.Duration)
		}
		return info, nil
	}
	return Info{}, fmt.Errorf("ffprobe %s: no audio stream", path)
}

func parseDuration(raw string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

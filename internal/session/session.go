package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// State tracks a session through its lifecycle. Transitions only move
// forward: recording -> stopping -> merging -> completed or failed.
type State string

const (
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateMerging   State = "merging"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateRecording, StateStopping, StateMerging, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether the session has finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether moving from s to next is legal. Failure is
// reachable from any non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateRecording:
		// Merging directly is the natural-expiry path; no stop happens.
		return next == StateStopping || next == StateMerging
	case StateStopping:
		return next == StateMerging
	case StateMerging:
		return next == StateCompleted
	}
	return false
}

// ChannelRole names one of the two capture legs of a session.
type ChannelRole string

const (
	RoleLoopback ChannelRole = "loopback"
	RoleMic      ChannelRole = "mic"
)

// Format selects the merged output container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatM4A Format = "m4a"
)

// ParseFormat validates a user-supplied output format.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatM4A:
		return FormatM4A, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want wav or m4a)", raw)
}

// Extension returns the file extension without a leading dot.
func (f Format) Extension() string { return string(f) }

// DurationPolicy says how a session ends: after a fixed time or on request.
type DurationPolicy struct {
	// Fixed is the requested run time; zero means manual stop.
	Fixed time.Duration
}

// Manual reports whether the session runs until an explicit stop.
func (p DurationPolicy) Manual() bool { return p.Fixed <= 0 }

// Quality bundles the sample parameters of a capture preset.
type Quality struct {
	Name       string
	SampleRate int
	Channels   int
	BitDepth   int
}

var presets = map[string]Quality{
	"quick":        {Name: "quick", SampleRate: 16000, Channels: 1, BitDepth: 16},
	"standard":     {Name: "standard", SampleRate: 44100, Channels: 2, BitDepth: 16},
	"professional": {Name: "professional", SampleRate: 48000, Channels: 2, BitDepth: 16},
	"high":         {Name: "high", SampleRate: 96000, Channels: 2, BitDepth: 16},
}

// ParseQuality resolves a preset name.
func ParseQuality(raw string) (Quality, error) {
	q, ok := presets[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return Quality{}, fmt.Errorf("unknown quality preset %q (want quick, standard, professional, or high)", raw)
	}
	return q, nil
}

// QualityNames lists the preset names in ascending fidelity order.
func QualityNames() []string {
	return []string{"quick", "standard", "professional", "high"}
}

// BytesPerSecond is the raw PCM data rate for this preset.
func (q Quality) BytesPerSecond() int {
	return q.SampleRate * q.Channels * q.BitDepth / 8
}

// Session is the durable description of one recording run.
type Session struct {
	ID        string
	State     State
	Quality   Quality
	Format    Format
	Policy    DurationPolicy
	StartedAt time.Time
	StoppedAt time.Time
	Output    string
	// Partial marks an artifact built from a single surviving channel.
	Partial bool
	Error   string
}

// TempWAVPath is the in-progress stream path for one channel, e.g.
// <tempDir>/rec-20260101_120000_loopback.wav.
func TempWAVPath(tempDir, id string, role ChannelRole) string {
	return filepath.Join(tempDir, fmt.Sprintf("%s_%s.wav", id, role))
}

// StatusPath is the JSON snapshot path for a session.
func StatusPath(statusDir, id string) string {
	return filepath.Join(statusDir, id+".json")
}

// SignalPath is the stop-request path for a session.
func SignalPath(signalDir, id string) string {
	return filepath.Join(signalDir, id+".stop")
}

// OutputPath is the final artifact path.
func OutputPath(outputDir, id string, format Format) string {
	return filepath.Join(outputDir, id+"."+format.Extension())
}

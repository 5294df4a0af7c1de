package session

import (
	"errors"
	"fmt"
)

// Failure kinds. Wrapped errors carry one of these so callers can pick
// between retrying, reporting, or salvaging partial output.
var (
	// ErrDeviceUnavailable: a capture device could not be opened or vanished.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrCaptureIO: reading from a source or writing a temp stream failed.
	ErrCaptureIO = errors.New("capture i/o error")
	// ErrMergeFailure: the output muxing step failed; temp streams survive.
	ErrMergeFailure = errors.New("merge failure")
	// ErrRecoveryPartial: recovery salvaged some sessions but not all.
	ErrRecoveryPartial = errors.New("recovery incomplete")
	// ErrNotFound: no session with the given id.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive: the session exists but is not accepting the operation.
	ErrNotActive = errors.New("session not active")
)

// DeviceError wraps err as a device failure for the named device.
func DeviceError(device string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
}

// CaptureError wraps err as a capture failure on one channel.
func CaptureError(role ChannelRole, err error) error {
	return fmt.Errorf("%w: %s channel: %v", ErrCaptureIO, role, err)
}

// MergeError wraps err as a merge failure for the session.
func MergeError(id string, err error) error {
	return fmt.Errorf("%w: session %s: %v", ErrMergeFailure, id, err)
}

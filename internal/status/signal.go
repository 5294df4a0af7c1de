package status

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tapedeck/internal/session"
)

// RequestStop drops the stop-signal file for a session. The recording
// process polls for it; creating it twice is harmless.
func RequestStop(signalDir, id string) error {
	path := session.SignalPath(signalDir, id)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create stop signal %s: %w", path, err)
	}
	return file.Close()
}

// StopRequested reports whether a stop signal exists for the session.
func StopRequested(signalDir, id string) bool {
	_, err := os.Stat(session.SignalPath(signalDir, id))
	return err == nil
}

// ClearStopSignal removes a consumed or stale stop signal.
func ClearStopSignal(signalDir, id string) error {
	if err := os.Remove(session.SignalPath(signalDir, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ActiveEntry pairs a snapshot with its file modification time.
type ActiveEntry struct {
	Snapshot Snapshot
	ModTime  int64
}

// ListActive reads every parseable snapshot in statusDir whose status is
// non-terminal, newest first. Unreadable or stale-claim files are skipped.
func ListActive(statusDir string) ([]ActiveEntry, error) {
	entries, err := os.ReadDir(statusDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status directory: %w", err)
	}

	var active []ActiveEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := session.IDFromFilename(entry.Name())
		if id == "" {
			continue
		}
		snap, err := Read(statusDir, id)
		if err != nil || snap.SessionID == "" {
			continue
		}
		if session.State(snap.Status).Terminal() {
			continue
		}
		info, err := os.Stat(filepath.Join(statusDir, entry.Name()))
		if err != nil {
			continue
		}
		active = append(active, ActiveEntry{Snapshot: snap, ModTime: info.ModTime().UnixNano()})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ModTime > active[j].ModTime })
	return active, nil
}

// MostRecentActive returns the id of the active session whose snapshot was
// updated last. This is what `tapedeck stop` targets when no id is given.
func MostRecentActive(statusDir string) (string, error) {
	active, err := ListActive(statusDir)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "", fmt.Errorf("%w: no active sessions", session.ErrNotFound)
	}
	return active[0].Snapshot.SessionID, nil
}

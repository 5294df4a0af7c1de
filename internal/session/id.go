package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// IDPrefix starts every session identifier.
const IDPrefix = "rec-"

var idPattern = regexp.MustCompile(`^rec-\d{8}_\d{6}(-\d+)?$`)

// FormatID renders the identifier for a start time, e.g. rec-20260101_120000.
func FormatID(t time.Time) string {
	return IDPrefix + t.Format("20060102_150405")
}

// ValidID reports whether s looks like a session identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// IDFromFilename strips a known session-file suffix from a file name,
// returning "" when the name is not session-shaped.
func IDFromFilename(name string) string {
	base := filepath.Base(name)
	for _, suffix := range []string{
		".json", ".stop",
		"_" + string(RoleLoopback) + ".wav",
		"_" + string(RoleMic) + ".wav",
	} {
		if strings.HasSuffix(base, suffix) {
			id := strings.TrimSuffix(base, suffix)
			if ValidID(id) {
				return id
			}
		}
	}
	return ""
}

// IDAllocator hands out collision-free session identifiers. Two invocations
// starting within the same second receive -2, -3, ... suffixes; a file lock
// keeps concurrent processes from racing the check.
type IDAllocator struct {
	lockPath  string
	statusDir string
	tempDir   string
	now       func() time.Time
}

// NewIDAllocator builds an allocator that checks statusDir and tempDir for
// existing uses of a candidate id.
func NewIDAllocator(lockDir, statusDir, tempDir string) *IDAllocator {
	return &IDAllocator{
		lockPath:  filepath.Join(lockDir, "idalloc.lock"),
		statusDir: statusDir,
		tempDir:   tempDir,
		now:       time.Now,
	}
}

// Allocate returns a fresh identifier and pre-creates its status file so the
// id stays claimed once the lock is released.
func (a *IDAllocator) Allocate() (string, error) {
	lock := flock.New(a.lockPath)
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("acquire id lock: %w", err)
	}
	defer lock.Unlock()

	base := FormatID(a.now())
	id := base
	for suffix := 2; a.inUse(id); suffix++ {
		if suffix > 100 {
			return "", fmt.Errorf("could not allocate session id near %s", base)
		}
		id = fmt.Sprintf("%s-%d", base, suffix)
	}

	claim := StatusPath(a.statusDir, id)
	if err := os.WriteFile(claim, []byte("{}\n"), 0o644); err != nil {
		return "", fmt.Errorf("claim session id %s: %w", id, err)
	}
	return id, nil
}

func (a *IDAllocator) inUse(id string) bool {
	candidates := []string{
		StatusPath(a.statusDir, id),
		TempWAVPath(a.tempDir, id, RoleLoopback),
		TempWAVPath(a.tempDir, id, RoleMic),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

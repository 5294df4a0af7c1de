package preflight

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"tapedeck/internal/config"
	"tapedeck/internal/devices"
)

// Result is the outcome of one environment check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeBytes is the disk headroom required before starting a recording.
// An hour of high-preset stereo PCM is ~1.3 GiB; require a bit more.
const minFreeBytes = 2 << 30

// CheckBinary verifies that a required executable is resolvable.
func CheckBinary(name, binary string) Result {
	path, err := exec.LookPath(binary)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s not found in PATH", binary)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckDirectoryAccess verifies the process can write into dir.
func CheckDirectoryAccess(name, dir string) Result {
	if dir == "" {
		return Result{Name: name, Detail: "directory not configured"}
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	return Result{Name: name, Passed: true, Detail: dir}
}

// CheckDiskSpace verifies dir's filesystem has recording headroom.
func CheckDiskSpace(name, dir string) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs %s: %v", dir, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%.1f GiB free on %s", float64(free)/(1<<30), dir)
	if free < minFreeBytes {
		return Result{Name: name, Detail: detail + " (need at least 2 GiB)"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDevice verifies a configured capture device exists.
func CheckDevice(name, device string) Result {
	if err := devices.Validate(device); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if device == "" {
		device = "default"
	}
	return Result{Name: name, Passed: true, Detail: device}
}

// RunAll executes every check relevant to a recording run. Directories are
// created first so a fresh install passes.
func RunAll(cfg *config.Config) []Result {
	if err := cfg.EnsureDirectories(); err != nil {
		return []Result{{Name: "directories", Detail: err.Error()}}
	}
	return []Result{
		CheckBinary("ffmpeg", cfg.Capture.FFmpegBinary),
		CheckBinary("ffprobe", cfg.Capture.FFprobeBinary),
		CheckDirectoryAccess("output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("temp directory", cfg.Paths.TempDir),
		CheckDirectoryAccess("status directory", cfg.Paths.StatusDir),
		CheckDirectoryAccess("signal directory", cfg.Paths.SignalDir),
		CheckDiskSpace("disk space", cfg.Paths.TempDir),
		CheckDevice("loopback device", cfg.Capture.LoopbackDevice),
		CheckDevice("microphone device", cfg.Capture.MicDevice),
	}
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

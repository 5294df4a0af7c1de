package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckBinary(t *testing.T) {
	// Any POSIX system has sh.
	if r := CheckBinary("shell", "sh"); !r.Passed {
		t.Fatalf("sh should resolve: %+v", r)
	}
	if r := CheckBinary("ffmpeg", "definitely-not-a-binary-1b2c3"); r.Passed {
		t.Fatalf("missing binary should fail: %+v", r)
	}
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if r := CheckDirectoryAccess("output directory", dir); !r.Passed {
		t.Fatalf("writable dir should pass: %+v", r)
	}
	if r := CheckDirectoryAccess("output directory", ""); r.Passed {
		t.Fatal("empty dir should fail")
	}

	if os.Getuid() != 0 {
		readonly := filepath.Join(dir, "ro")
		if err := os.Mkdir(readonly, 0o555); err != nil {
			t.Fatal(err)
		}
		if r := CheckDirectoryAccess("output directory", readonly); r.Passed {
			t.Fatalf("read-only dir should fail: %+v", r)
		}
	}
}

func TestCheckDiskSpaceReportsUsage(t *testing.T) {
	r := CheckDiskSpace("disk space", t.TempDir())
	if !strings.Contains(r.Detail, "GiB free") {
		t.Fatalf("detail = %q", r.Detail)
	}
}

func TestAllPassed(t *testing.T) {
	results := []Result{{Passed: true}, {Passed: true}}
	if !AllPassed(results) {
		t.Fatal("all passing should report true")
	}
	results = append(results, Result{Passed: false})
	if AllPassed(results) {
		t.Fatal("one failure should report false")
	}
}

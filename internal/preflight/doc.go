// Package preflight checks the environment before a recording starts, so
// missing binaries, unwritable directories, or full disks surface as a clear
// report instead of a mid-session failure.
package preflight

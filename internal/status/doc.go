// Package status is the file-based control surface of a recording session:
// periodic JSON snapshots for observers and stop-signal files for control.
// Both live on disk so separate processes coordinate without IPC.
package status

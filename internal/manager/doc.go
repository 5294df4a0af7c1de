// Package manager orchestrates recording sessions: it allocates ids, runs
// the two capture channels, reacts to stop triggers, and hands finished
// streams to the merge engine while keeping the registry and status files
// in step.
package manager

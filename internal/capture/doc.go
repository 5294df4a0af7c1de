// Package capture moves PCM audio from system devices into temp WAV streams.
// Each recording session runs two independent channels (system loopback and
// microphone), each fed by an ffmpeg subprocess and tracked with lock-free
// progress counters.
package capture

// Package wav streams 16-bit PCM to disk and inspects WAV headers. It exists
// so each capture channel can keep an always-consistent file on disk: the
// header is patched on close, and readers trust observed payload length over
// declared length to cope with crash leftovers.
package wav

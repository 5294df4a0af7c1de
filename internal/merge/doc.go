// Package merge produces the final recording artifact from a session's temp
// WAV streams. Loopback always lands on the left channel and microphone on
// the right; the shorter stream is padded with silence rather than cut or
// blended.
package merge

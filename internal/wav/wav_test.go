package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	spec := Spec{SampleRate: 44100, Channels: 2, BitDepth: 16}

	w, err := NewWriter(path, spec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	samples := make([]int16, 44100*2) // one second, stereo
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if w.Frames() != 44100 {
		t.Fatalf("Frames = %d, want 44100", w.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Spec != spec {
		t.Fatalf("spec = %+v, want %+v", info.Spec, spec)
	}
	if info.Frames != 44100 {
		t.Fatalf("frames = %d, want 44100", info.Frames)
	}
	if !HasAudioData(path) {
		t.Fatal("HasAudioData = false")
	}
}

func TestFirstWriteLandsAfterHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.wav")
	w, err := NewWriter(path, Spec{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSamples([]int16{0x7F01, 0x7F02}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != HeaderSize+4 {
		t.Fatalf("file size = %d, want %d", len(data), HeaderSize+4)
	}
	// The header must survive the first sample write.
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("header overwritten: % x", data[0:12])
	}
	if got := binary.LittleEndian.Uint16(data[HeaderSize:]); got != 0x7F01 {
		t.Fatalf("first sample = %#x, want 0x7f01", got)
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	w, err := NewWriter(path, Spec{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := w.WriteSamples([]int16{1}); err == nil {
		t.Fatal("write after close should fail")
	}
}

func TestHeaderOnlyFileHasNoAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	w, err := NewWriter(path, Spec{SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Frames != 0 {
		t.Fatalf("frames = %d, want 0", info.Frames)
	}
	if HasAudioData(path) {
		t.Fatal("HasAudioData should be false for header-only file")
	}
}

func TestReadInfoTrustsObservedSizeOverHeader(t *testing.T) {
	// Simulate a crash: header claims zero data but samples were flushed.
	path := filepath.Join(t.TempDir(), "crashed.wav")
	w, err := NewWriter(path, Spec{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSamples(make([]int16, 1600)); err != nil {
		t.Fatal(err)
	}
	if err := w.file.Close(); err != nil { // close without patching the header
		t.Fatal(err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Frames != 1600 {
		t.Fatalf("frames = %d, want 1600", info.Frames)
	}
}

func TestReadInfoRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("this is not audio at all, just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadInfo(path); err == nil {
		t.Fatal("expected error for non-wav file")
	}
}

func TestWriterLittleEndianSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "le.wav")
	w, err := NewWriter(path, Spec{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSamples([]int16{0x0102}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := binary.LittleEndian.Uint16(data[HeaderSize:])
	if got != 0x0102 {
		t.Fatalf("sample bytes = %#x", got)
	}
}

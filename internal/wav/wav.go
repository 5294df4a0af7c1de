package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// HeaderSize is the length of the canonical PCM WAV header this package
// writes. Files at or below this size contain no audio.
const HeaderSize = 44

const pcmFormatTag = 1

// Spec describes the PCM stream stored in a file.
type Spec struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (s Spec) blockAlign() int { return s.Channels * s.BitDepth / 8 }

func (s Spec) validate() error {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return fmt.Errorf("invalid wav spec: rate=%d channels=%d", s.SampleRate, s.Channels)
	}
	if s.BitDepth != 16 {
		return fmt.Errorf("invalid wav spec: bit depth %d (only 16 supported)", s.BitDepth)
	}
	return nil
}

// Writer streams 16-bit PCM samples into a WAV file. The header is written
// up front with placeholder sizes and patched during Close, so a crashed
// writer leaves a file whose true payload length is what was flushed.
type Writer struct {
	file      *os.File
	spec      Spec
	dataBytes int64
	closed    bool
}

// NewWriter creates path (truncating any existing file) and writes the header.
func NewWriter(path string, spec Spec) (*Writer, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav %s: %w", path, err)
	}
	w := &Writer{file: file, spec: spec}
	if err := w.writeHeader(0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	// The header goes through WriteAt, which leaves the offset untouched;
	// samples must land after it, not over it.
	if _, err := file.Seek(HeaderSize, io.SeekStart); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("seek past wav header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeHeader(dataBytes uint32) error {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataBytes)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.spec.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.spec.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(w.spec.SampleRate*w.spec.blockAlign()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(w.spec.blockAlign()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(w.spec.BitDepth))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataBytes)

	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	return nil
}

// WriteSamples appends interleaved 16-bit samples.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.closed {
		return errors.New("wav writer closed")
	}
	if len(samples) == 0 {
		return nil
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	n, err := w.file.Write(buf)
	w.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

// Frames returns the number of complete frames written so far.
func (w *Writer) Frames() int64 {
	return w.dataBytes / int64(w.spec.blockAlign())
}

// Sync flushes buffered data to stable storage.
func (w *Writer) Sync() error {
	if w.closed {
		return nil
	}
	return w.file.Sync()
}

// Close patches the header with the final payload size and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	hdrErr := w.writeHeader(uint32(w.dataBytes))
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	if hdrErr != nil {
		return hdrErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Info summarizes a WAV file on disk.
type Info struct {
	Spec      Spec
	DataBytes int64
	Frames    int64
}

// ReadInfo parses the header of the file at path without reading the payload.
// The data length reported is clamped to what is actually present, so files
// from crashed writers (placeholder sizes) are measured by their real bytes.
func ReadInfo(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav %s: %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, err
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(file, hdr[:]); err != nil {
		return Info{}, fmt.Errorf("read wav header %s: %w", path, err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" || string(hdr[12:16]) != "fmt " {
		return Info{}, fmt.Errorf("%s: not a wav file", path)
	}
	if tag := binary.LittleEndian.Uint16(hdr[20:22]); tag != pcmFormatTag {
		return Info{}, fmt.Errorf("%s: unsupported wav format tag %d", path, tag)
	}

	spec := Spec{
		SampleRate: int(binary.LittleEndian.Uint32(hdr[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(hdr[22:24])),
		BitDepth:   int(binary.LittleEndian.Uint16(hdr[34:36])),
	}
	if err := spec.validate(); err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}

	dataBytes := stat.Size() - HeaderSize
	if dataBytes < 0 {
		dataBytes = 0
	}
	if declared := int64(binary.LittleEndian.Uint32(hdr[40:44])); declared > 0 && declared < dataBytes {
		dataBytes = declared
	}

	return Info{
		Spec:      spec,
		DataBytes: dataBytes,
		Frames:    dataBytes / int64(spec.blockAlign()),
	}, nil
}

// HasAudioData reports whether the file at path holds at least one frame.
func HasAudioData(path string) bool {
	info, err := ReadInfo(path)
	return err == nil && info.Frames > 0
}

package devices

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tapedeck/internal/session"
)

// cardsPath is where ALSA publishes the sound card table.
const cardsPath = "/proc/asound/cards"

// Device is one enumerated sound card.
type Device struct {
	Index       int
	ID          string
	Name        string
	Description string
}

// Label is a human-facing title for the card, e.g. "Usb Audio Codec".
func (d Device) Label() string {
	source := d.Name
	if source == "" {
		source = d.ID
	}
	return cases.Title(language.English).String(strings.ToLower(source))
}

// ALSAName is the hw: identifier ffmpeg accepts for this card.
func (d Device) ALSAName() string {
	return fmt.Sprintf("hw:%d", d.Index)
}

// List enumerates the system's sound cards. A missing cards file (no sound
// support) yields an empty list, not an error.
func List() ([]Device, error) {
	file, err := os.Open(cardsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sound cards: %w", err)
	}
	defer file.Close()
	return parseCards(file)
}

// cardLine matches " 0 [PCH  ]: HDA-Intel - HDA Intel PCH".
var cardLine = regexp.MustCompile(`^\s*(\d+)\s+\[(\S+)\s*\]:\s+(\S+)\s+-\s+(.*)$`)

func parseCards(r io.Reader) ([]Device, error) {
	var (
		devices []Device
		last    *Device
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := cardLine.FindStringSubmatch(line); m != nil {
			index, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			devices = append(devices, Device{
				Index: index,
				ID:    m[2],
				Name:  strings.TrimSpace(m[4]),
			})
			last = &devices[len(devices)-1]
			continue
		}
		// The continuation line carries the long description.
		if last != nil && strings.HasPrefix(line, " ") && strings.TrimSpace(line) != "" {
			last.Description = strings.TrimSpace(line)
			last = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse sound cards: %w", err)
	}
	return devices, nil
}

// Validate checks a configured capture device identifier against the
// enumerated cards. Empty means platform default and always passes; sound
// server names (pulse/pipewire) cannot be verified here and pass through.
func Validate(device string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	if !strings.HasPrefix(device, "hw:") && !strings.HasPrefix(device, "plughw:") {
		return nil
	}

	spec := strings.TrimPrefix(strings.TrimPrefix(device, "plughw:"), "hw:")
	cardField := strings.SplitN(spec, ",", 2)[0]
	list, err := List()
	if err != nil {
		return err
	}
	for _, d := range list {
		if strconv.Itoa(d.Index) == cardField || d.ID == cardField {
			return nil
		}
	}
	return session.DeviceError(device, fmt.Errorf("no such sound card %q", cardField))
}

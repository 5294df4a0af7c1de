// Package devices enumerates sound cards, validates configured capture
// device names, and watches udev for hardware removal during a recording.
package devices

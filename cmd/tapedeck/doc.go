// Command tapedeck records system audio and microphone into a single stereo
// file, with subcommands to stop, inspect, list, and recover sessions.
package main

// Package recovery salvages recordings interrupted by a crash or power loss.
// Temp streams that captured audio become normal merged artifacts; empty
// leftovers are swept away. Running it repeatedly is safe.
package recovery

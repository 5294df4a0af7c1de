// Package store is the durable session registry. Every recording run leaves
// a row here, and recovery uses the rows stuck in non-terminal states to find
// sessions interrupted by a crash.
package store

// Package session implements the per-stream ingestion state: a bounded frame
// buffer, its drop policy, sequence numbering and lifecycle.
//
// A Session is safe for concurrent use. Pushers only ever take the lock of
// the session they push to; the scheduler pops from many sessions but never
// holds two session locks at once.
package session

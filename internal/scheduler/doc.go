// Package scheduler admits buffered frames into the worker pool.
//
// A single loop goroutine owns the session table and the in-flight set. It
// is woken by sessions that received frames, by worker completions, by
// control commands and by a sweep ticker; it never polls. Pushers look up
// their session in an immutable snapshot of the table and only take that
// session's lock.
package scheduler

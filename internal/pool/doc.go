// Package pool runs pipeline stages on a resizable set of worker goroutines.
//
// The pool executes one stage per task and reports a Completion for every
// task it accepts. It does not retry; failures are reported to the caller.
package pool

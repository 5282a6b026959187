package domain

import (
	"fmt"
	"strings"
)

// DropPolicy decides what a session does when its buffer is at bound.
type DropPolicy int

const (
	// DropOldest evicts the buffer head and enqueues the new frame.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming frame.
	DropNewest
	// AdaptiveSample thins admissions by temporal spacing under sustained load.
	AdaptiveSample
)

// String returns the config name of the policy.
func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case AdaptiveSample:
		return "adaptive_sample"
	default:
		return "unknown"
	}
}

// ParseDropPolicy parses a policy name. Dashes and case are ignored.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	case "adaptive_sample", "adaptive", "sample":
		return AdaptiveSample, nil
	default:
		return DropOldest, fmt.Errorf("%w: unknown drop policy %q", ErrInvalidConfig, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p DropPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DropPolicy) UnmarshalText(b []byte) error {
	v, err := ParseDropPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// DropReason explains why an accounted frame produced no result.
type DropReason int

const (
	// ReasonEvictedOldest: evicted from the buffer head by DropOldest.
	ReasonEvictedOldest DropReason = iota
	// ReasonBufferFull: rejected on arrival by DropNewest.
	ReasonBufferFull
	// ReasonSampled: thinned by AdaptiveSample.
	ReasonSampled
	// ReasonStreamCancelled: buffered when the stream was cancelled.
	ReasonStreamCancelled
	// ReasonSchedulerShutdown: buffered when the scheduler began shutdown.
	ReasonSchedulerShutdown
	// ReasonShutdownAborted: in flight when the shutdown drain timed out.
	ReasonShutdownAborted
)

// DropReasons lists every reason, in declaration order.
var DropReasons = []DropReason{
	ReasonEvictedOldest,
	ReasonBufferFull,
	ReasonSampled,
	ReasonStreamCancelled,
	ReasonSchedulerShutdown,
	ReasonShutdownAborted,
}

// String returns the metrics label of the reason.
func (r DropReason) String() string {
	switch r {
	case ReasonEvictedOldest:
		return "evicted_oldest"
	case ReasonBufferFull:
		return "buffer_full"
	case ReasonSampled:
		return "sampled"
	case ReasonStreamCancelled:
		return "stream_cancelled"
	case ReasonSchedulerShutdown:
		return "scheduler_shutdown"
	case ReasonShutdownAborted:
		return "shutdown_aborted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r DropReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SessionState is the lifecycle state of a stream session.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionDraining
	SessionClosed
)

// String returns a human-readable representation of the state.
func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "Active"
	case SessionDraining:
		return "Draining"
	case SessionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

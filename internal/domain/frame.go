package domain

import "time"

// Frame represents a single unit of stream input.
// A frame is the atomic unit buffered by a session and dispatched to workers.
type Frame struct {
	// StreamID identifies the stream the frame belongs to.
	StreamID string

	// Seq is the stream-local sequence number. Strictly increasing per stream.
	// Zero means "not yet assigned"; the session assigns the next number.
	Seq uint64

	// ArrivedAt is when the frame reached the ingestion boundary.
	ArrivedAt time.Time

	// Payload is the raw frame data (typically an encoded image).
	// Owned by the session until popped, then by exactly one WorkItem.
	Payload []byte
}

// Size returns the payload length in bytes.
func (f Frame) Size() int {
	return len(f.Payload)
}

// FrameMeta is the payload-free view of a frame used in sink events and logs.
type FrameMeta struct {
	StreamID  string    `json:"stream_id"`
	Seq       uint64    `json:"seq"`
	ArrivedAt time.Time `json:"arrived_at"`
	Bytes     int       `json:"bytes"`
}

// Meta returns the payload-free metadata of the frame.
func (f Frame) Meta() FrameMeta {
	return FrameMeta{
		StreamID:  f.StreamID,
		Seq:       f.Seq,
		ArrivedAt: f.ArrivedAt,
		Bytes:     len(f.Payload),
	}
}

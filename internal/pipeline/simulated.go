package pipeline

import (
	"context"
	"fmt"
	"time"
)

// newSimulatedDetector returns a stand-in model with a fixed latency profile.
// Outputs and faults are derived from the frame sequence number, so a given
// frame always produces the same detections.
//
// Params: latency ("5ms"), failure_rate (0..1), labels (["person"]),
// max_objects (3), width (640), height (480).
func newSimulatedDetector(p Params) (Invoker, error) {
	latency, err := p.Duration("latency", 5*time.Millisecond)
	if err != nil {
		return nil, err
	}
	failureRate, err := p.Float("failure_rate", 0)
	if err != nil {
		return nil, err
	}
	labels, err := p.Strings("labels")
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		labels = []string{"person"}
	}
	maxObjects, err := p.Int("max_objects", 3)
	if err != nil {
		return nil, err
	}
	width, err := p.Float("width", 640)
	if err != nil {
		return nil, err
	}
	height, err := p.Float("height", 480)
	if err != nil {
		return nil, err
	}

	return InvokerFunc(func(ctx context.Context, in Input) (any, error) {
		if latency > 0 {
			t := time.NewTimer(latency)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}

		h := mix(in.Frame.Seq ^ uint64(len(in.Frame.Payload))<<32)
		if float64(h%10000)/10000 < failureRate {
			return nil, fmt.Errorf("simulated model fault on frame %d", in.Frame.Seq)
		}

		n := 0
		if maxObjects > 0 {
			n = int(h>>16) % (maxObjects + 1)
		}
		out := make(Detections, 0, n)
		for i := 0; i < n; i++ {
			h = mix(h + uint64(i))
			x := float64(h%1000) / 1000 * width * 0.8
			y := float64((h>>10)%1000) / 1000 * height * 0.8
			w := width * (0.05 + float64((h>>20)%100)/1000)
			ht := height * (0.1 + float64((h>>30)%100)/1000)
			cls := int(h>>40) % len(labels)
			out = append(out, Detection{
				Class:      labels[cls],
				ClassID:    cls,
				Confidence: 0.3 + float64((h>>50)%700)/1000,
				Box:        Box{XMin: x, YMin: y, XMax: x + w, YMax: y + ht},
			})
		}
		return out, nil
	}), nil
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Built-in stage kinds.
const (
	KindDetectionsFilter    = "detections_filter"
	KindDetectionsOffset    = "detections_offset"
	KindDetectionsShift     = "detections_shift"
	KindDetectionsConsensus = "detections_consensus"
	KindSimulatedDetector   = "simulated_detector"
)

// Box is an axis-aligned bounding box in pixel coordinates (xyxy).
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.XMax-b.XMin, b.YMax-b.YMin
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	inter := Box{
		XMin: math.Max(b.XMin, o.XMin),
		YMin: math.Max(b.YMin, o.YMin),
		XMax: math.Min(b.XMax, o.XMax),
		YMax: math.Min(b.YMax, o.YMax),
	}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one detected object.
type Detection struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Detections is the value type produced and consumed by detection stages.
type Detections []Detection

// detectionsInput returns the previous stage output as Detections.
func detectionsInput(in Input) (Detections, error) {
	return asDetections(in.Last())
}

func asDetections(value any) (Detections, error) {
	switch v := value.(type) {
	case Detections:
		return v, nil
	case []Detection:
		return Detections(v), nil
	default:
		return nil, fmt.Errorf("%w: expected detections, got %T", domain.ErrInvalidInputType, v)
	}
}

// newFilterStage keeps detections matching min_confidence, min_area and,
// when given, the classes allow-list.
func newFilterStage(p Params) (Invoker, error) {
	minConf, err := p.Float("min_confidence", 0)
	if err != nil {
		return nil, err
	}
	minArea, err := p.Float("min_area", 0)
	if err != nil {
		return nil, err
	}
	classes, err := p.Strings("classes")
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}

	return InvokerFunc(func(_ context.Context, in Input) (any, error) {
		dets, err := detectionsInput(in)
		if err != nil {
			return nil, err
		}
		out := make(Detections, 0, len(dets))
		for _, d := range dets {
			if d.Confidence < minConf || d.Box.Area() < minArea {
				continue
			}
			if len(allowed) > 0 && !allowed[d.Class] {
				continue
			}
			out = append(out, d)
		}
		return out, nil
	}), nil
}

// newOffsetStage grows every box by offset_x/offset_y, split evenly per side.
func newOffsetStage(p Params) (Invoker, error) {
	ox, err := p.Float("offset_x", 0)
	if err != nil {
		return nil, err
	}
	oy, err := p.Float("offset_y", 0)
	if err != nil {
		return nil, err
	}
	return InvokerFunc(func(_ context.Context, in Input) (any, error) {
		dets, err := detectionsInput(in)
		if err != nil {
			return nil, err
		}
		out := make(Detections, len(dets))
		for i, d := range dets {
			d.Box.XMin -= ox / 2
			d.Box.YMin -= oy / 2
			d.Box.XMax += ox / 2
			d.Box.YMax += oy / 2
			out[i] = d
		}
		return out, nil
	}), nil
}

// newShiftStage translates every box by shift_x/shift_y.
func newShiftStage(p Params) (Invoker, error) {
	sx, err := p.Float("shift_x", 0)
	if err != nil {
		return nil, err
	}
	sy, err := p.Float("shift_y", 0)
	if err != nil {
		return nil, err
	}
	return InvokerFunc(func(_ context.Context, in Input) (any, error) {
		dets, err := detectionsInput(in)
		if err != nil {
			return nil, err
		}
		out := make(Detections, len(dets))
		for i, d := range dets {
			d.Box.XMin += sx
			d.Box.YMin += sy
			d.Box.XMax += sx
			d.Box.YMax += sy
			out[i] = d
		}
		return out, nil
	}), nil
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/bft-labs/visionflow/internal/domain"
)

// newConsensusStage merges the detections of several earlier stages.
// A merged detection needs matches (same class, IoU >= iou_threshold) from at
// least required_votes distinct sources. When fewer than required_objects
// detections reach consensus the stage outputs nothing.
func newConsensusStage(p Params) (Invoker, error) {
	sources, err := p.Strings("sources")
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: consensus needs at least one source stage", domain.ErrInvalidConfig)
	}
	votes, err := p.Int("required_votes", 2)
	if err != nil {
		return nil, err
	}
	if votes < 1 || votes > len(sources) {
		return nil, fmt.Errorf("%w: required_votes %d outside [1, %d]", domain.ErrInvalidConfig, votes, len(sources))
	}
	iou, err := p.Float("iou_threshold", 0.3)
	if err != nil {
		return nil, err
	}
	minObjects, err := p.Int("required_objects", 0)
	if err != nil {
		return nil, err
	}

	return InvokerFunc(func(_ context.Context, in Input) (any, error) {
		var clusters []*cluster
		for si, name := range sources {
			v, ok := in.Output(name)
			if !ok {
				return nil, fmt.Errorf("%w: consensus source %s has no output", domain.ErrInvalidInputType, name)
			}
			dets, err := asDetections(v)
			if err != nil {
				return nil, fmt.Errorf("consensus source %s: %w", name, err)
			}
			for _, d := range dets {
				if c := bestCluster(clusters, d, si, iou); c != nil {
					c.add(d, si)
					continue
				}
				c := &cluster{sources: map[int]bool{}}
				c.add(d, si)
				clusters = append(clusters, c)
			}
		}

		out := make(Detections, 0, len(clusters))
		for _, c := range clusters {
			if len(c.sources) >= votes {
				out = append(out, c.merge())
			}
		}
		if len(out) < minObjects {
			return Detections{}, nil
		}
		return out, nil
	}), nil
}

type cluster struct {
	members []Detection
	sources map[int]bool
}

func (c *cluster) add(d Detection, source int) {
	c.members = append(c.members, d)
	c.sources[source] = true
}

// merge averages member boxes and confidences.
func (c *cluster) merge() Detection {
	n := float64(len(c.members))
	out := Detection{Class: c.members[0].Class, ClassID: c.members[0].ClassID}
	for _, m := range c.members {
		out.Confidence += m.Confidence / n
		out.Box.XMin += m.Box.XMin / n
		out.Box.YMin += m.Box.YMin / n
		out.Box.XMax += m.Box.XMax / n
		out.Box.YMax += m.Box.YMax / n
	}
	return out
}

// bestCluster finds the cluster with the highest IoU against d that has no
// member from the same source yet.
func bestCluster(clusters []*cluster, d Detection, source int, threshold float64) *cluster {
	var best *cluster
	bestIoU := threshold
	for _, c := range clusters {
		if c.sources[source] || c.members[0].Class != d.Class {
			continue
		}
		if v := c.members[0].Box.IoU(d.Box); v >= bestIoU {
			best, bestIoU = c, v
		}
	}
	return best
}

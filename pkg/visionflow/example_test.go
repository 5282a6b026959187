package visionflow_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// ExampleNew demonstrates how to embed the engine in an application.
func ExampleNew() {
	cfg := visionflow.Config{
		PoolSize: 2,
		Pipelines: []visionflow.PipelineSpec{{
			ID: "people",
			Stages: []visionflow.StageDescriptor{
				{Name: "detect", Kind: "simulated_detector", CostWeight: 3},
				{Name: "filter", Kind: "detections_filter",
					Params: visionflow.StageParams{"min_confidence": 0.5, "classes": []any{"person"}}},
			},
		}},
	}

	var outcomes atomic.Int64
	sink := visionflow.SinkFuncs{
		Result: func(visionflow.Result) { outcomes.Add(1) },
		Drop:   func(string, uint64, visionflow.DropReason) { outcomes.Add(1) },
	}

	engine, err := visionflow.New(cfg, visionflow.WithSink(sink))
	if err != nil {
		fmt.Printf("failed to create engine: %v\n", err)
		return
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}

	for i := 0; i < 3; i++ {
		_, _ = engine.Push("cam-1", []byte("jpeg bytes"), time.Now())
	}

	// Stop waits for in-flight frames; buffered ones are reported as drops.
	_ = engine.Stop(ctx)

	fmt.Println("outcomes:", outcomes.Load())
	// Output: outcomes: 3
}

// Example_customStage demonstrates registering a stage kind.
func Example_customStage() {
	blur := func(params visionflow.StageParams) (visionflow.Invoker, error) {
		return visionflow.InvokerFunc(func(ctx context.Context, in visionflow.StageInput) (any, error) {
			return len(in.Frame.Payload), nil
		}), nil
	}

	cfg := visionflow.Config{
		Pipelines: []visionflow.PipelineSpec{{
			ID:     "privacy",
			Stages: []visionflow.StageDescriptor{{Name: "blur", Kind: "face_blur"}},
		}},
	}

	engine, err := visionflow.New(cfg, visionflow.WithStageKind("face_blur", blur))
	if err != nil {
		fmt.Printf("failed to create engine: %v\n", err)
		return
	}
	fmt.Println(engine.Pipelines())
	// Output: [privacy]
}

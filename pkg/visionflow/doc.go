// Package visionflow provides an embeddable real-time inference runtime for
// live frame streams.
//
// An [Engine] accepts frames from many streams, runs each admitted frame
// through a configured pipeline of inference stages on a bounded worker
// pool, and delivers per-frame outcomes to a [Sink] in per-stream order.
// Memory is bounded by the per-stream buffers; concurrency by the pool.
//
// # Basic Usage
//
//	cfg := visionflow.Config{
//	    PoolSize: 4,
//	    Pipelines: []visionflow.PipelineSpec{{
//	        ID: "people",
//	        Stages: []visionflow.StageDescriptor{
//	            {Name: "detect", Kind: "simulated_detector", CostWeight: 3},
//	            {Name: "filter", Kind: "detections_filter",
//	                Params: visionflow.StageParams{"min_confidence": 0.5}},
//	        },
//	    }},
//	}
//
//	engine, err := visionflow.New(cfg, visionflow.WithSink(mySink))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(context.Background())
//
//	engine.Push("cam-1", jpeg, time.Now())
//
// # Ingestion
//
// Frames arrive either by [Engine.Push] (the engine assigns sequence
// numbers) or by [Engine.Attach], which pumps a [FrameSource] until it ends
// and then closes the stream. A stream is created on its first frame with
// the configured defaults, or explicitly with [Engine.CreateStream].
//
// # Output
//
// For every accounted frame the sink receives exactly one of OnResult or
// OnDrop, unless the frame falls inside a forced ordering gap. Sink calls
// are synchronous and must not call back into the engine.
//
// # Stage Kinds
//
// Pipelines are declared with stage kinds resolved from a registry. The
// built-in kinds are simulated_detector, detections_filter,
// detections_offset, detections_shift and detections_consensus. Register
// more with [WithStageKind].
//
// # Plugins
//
//	import "github.com/bft-labs/visionflow/plugins/metricsserver"
//	import "github.com/bft-labs/visionflow/plugins/configwatcher"
//
//	engine, err := visionflow.New(cfg,
//	    metricsserver.WithMetricsServer(metricsserver.DefaultConfig()),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{Path: "visionflow.toml"}),
//	)
//
// Plugins are initialized in registration order once the scheduler runs and
// shut down in reverse order.
package visionflow

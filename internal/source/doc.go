// Package source provides FrameSource implementations: a push adapter for
// external producers and a paced synthetic generator.
package source

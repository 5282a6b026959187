// Package aggregator reorders per-frame outcomes so the sink sees each
// stream in strictly increasing sequence order.
package aggregator

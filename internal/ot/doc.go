// Package ot implements operational transform for plain linear text.
//
// An Operation is an insert or a delete at a code-point offset. Apply is
// total: out-of-range positions are clamped rather than rejected, so an
// operation that went stale between transform and application degrades to the
// nearest valid edit instead of failing.
//
// Transform rewrites one operation so it can be applied after a concurrent
// one. State owns one document's text, its monotonically increasing version,
// a bounded history of applied operations and linear undo/redo stacks.
//
// State is not safe for concurrent use. Callers serialize access per
// document (see package hub).
package ot

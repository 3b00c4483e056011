// Package hub tracks which connections are editing which document and
// applies their edits.
//
// A Room groups every Session bound to one document together with that
// document's ot.State. All mutations of a room (membership, cursors and the
// document itself) happen under the room's mutex, so edits are applied and
// broadcast in the order they are admitted. The mutex is never held across
// socket I/O: a broadcast only enqueues encoded messages on each session's
// buffered send channel, and a per-session writer goroutine does the actual
// writes. A session whose buffer is full or whose write fails is evicted as if
// it had disconnected.
//
// Rooms are created on first admission, loading the document from the
// document store, and torn down when their last session leaves, at which point
// unsaved changes are flushed back. When a relay is configured every applied
// edit is published to it and edits published by other instances are
// transformed and applied locally.
package hub

package hub

import "errors"

var (
	// ErrClosed is returned once the hub has shut down.
	ErrClosed = errors.New("hub closed")
	// ErrSessionLeft is returned for requests from a dismissed session.
	ErrSessionLeft = errors.New("session has left")
	// ErrUnknownDocument is returned when no room is open for a document.
	ErrUnknownDocument = errors.New("no active room for document")
	// ErrNothingToUndo and ErrNothingToRedo report empty undo/redo stacks.
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

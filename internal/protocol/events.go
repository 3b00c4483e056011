// Package protocol defines the messages exchanged with editing clients.
//
// Every message is a flat JSON object whose "type" field selects one of a
// closed set of event kinds. Inbound messages are decoded exactly once, at the
// connection boundary, into one of the Inbound variants; the rest of the
// system never sees raw payloads.
package protocol

import (
	"time"

	"collabtext/internal/ot"
)

// Type is the value of an event's "type" field.
type Type string

const (
	TypeDocumentChange Type = "document_change"
	TypeCursorPosition Type = "cursor_position"
	TypeUndo           Type = "undo"
	TypeRedo           Type = "redo"
	TypeSave           Type = "save"
	TypeSync           Type = "sync"

	TypeUserJoined    Type = "user_joined"
	TypeUserLeft      Type = "user_left"
	TypePresence      Type = "presence"
	TypeAttribution   Type = "attribution"
	TypeError         Type = "error"
	TypeRecovery      Type = "recovery"
	TypeDocumentSaved Type = "document_saved"
)

// Inbound is a message sent by a client.
type Inbound interface {
	Type() Type
	inbound()
}

// Outbound is a message sent to clients.
type Outbound interface {
	Type() Type
	outbound()
}

// ChangeRequest asks to apply Op, generated against BaseVersion.
type ChangeRequest struct {
	Op          ot.Operation `json:"op"`
	BaseVersion int          `json:"base_version"`
}

// CursorMove reports the sender's cursor position.
type CursorMove struct {
	Position int `json:"position"`
}

// UndoRequest reverts the document's most recent undoable edit.
type UndoRequest struct{}

// RedoRequest re-applies the most recently undone edit.
type RedoRequest struct{}

// SaveRequest flushes the document to the document store.
type SaveRequest struct{}

// SyncRequest asks for a Recovery snapshot.
type SyncRequest struct{}

func (ChangeRequest) Type() Type { return TypeDocumentChange }
func (CursorMove) Type() Type    { return TypeCursorPosition }
func (UndoRequest) Type() Type   { return TypeUndo }
func (RedoRequest) Type() Type   { return TypeRedo }
func (SaveRequest) Type() Type   { return TypeSave }
func (SyncRequest) Type() Type   { return TypeSync }

func (ChangeRequest) inbound() {}
func (CursorMove) inbound()    {}
func (UndoRequest) inbound()   {}
func (RedoRequest) inbound()   {}
func (SaveRequest) inbound()   {}
func (SyncRequest) inbound()   {}

type UserJoined struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type UserLeft struct {
	UserID string `json:"user_id"`
}

// PresenceUser is one entry of a Presence snapshot.
type PresenceUser struct {
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	CursorPosition int       `json:"cursor_position"`
	LastSeen       time.Time `json:"last_seen"`
}

// Presence is the full set of users currently in a document.
type Presence struct {
	Users []PresenceUser `json:"users"`
}

// Changed announces an applied operation and the version it produced.
type Changed struct {
	Op      ot.Operation `json:"op"`
	Version int          `json:"version"`
}

type Attribution struct {
	Author    string       `json:"author"`
	Op        ot.Operation `json:"op"`
	Timestamp time.Time    `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

// Recovery carries the authoritative document state for a client to
// resynchronize from.
type Recovery struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
}

type DocumentSaved struct {
	UserID    string    `json:"user_id"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (UserJoined) Type() Type    { return TypeUserJoined }
func (UserLeft) Type() Type      { return TypeUserLeft }
func (Presence) Type() Type      { return TypePresence }
func (Changed) Type() Type       { return TypeDocumentChange }
func (Attribution) Type() Type   { return TypeAttribution }
func (Error) Type() Type         { return TypeError }
func (Recovery) Type() Type      { return TypeRecovery }
func (DocumentSaved) Type() Type { return TypeDocumentSaved }

func (UserJoined) outbound()    {}
func (UserLeft) outbound()      {}
func (Presence) outbound()      {}
func (Changed) outbound()       {}
func (Attribution) outbound()   {}
func (Error) outbound()         {}
func (Recovery) outbound()      {}
func (DocumentSaved) outbound() {}

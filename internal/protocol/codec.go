package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError is a malformed or unrecognized client message. It is reported
// to the sender; the connection stays open.
type DecodeError struct {
	Type Type
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid message: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s message: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type header struct {
	Type Type `json:"type"`
}

// Decode parses a client message.
func Decode(data []byte) (Inbound, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var msg Inbound
	switch h.Type {
	case TypeDocumentChange:
		var m ChangeRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Type: h.Type, Err: err}
		}
		if err := m.Op.Validate(); err != nil {
			return nil, &DecodeError{Type: h.Type, Err: err}
		}
		if m.BaseVersion < 0 {
			return nil, &DecodeError{Type: h.Type, Err: fmt.Errorf("negative base_version %d", m.BaseVersion)}
		}
		m.Op.Author = ""
		msg = m
	case TypeCursorPosition:
		var m CursorMove
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Type: h.Type, Err: err}
		}
		if m.Position < 0 {
			return nil, &DecodeError{Type: h.Type, Err: fmt.Errorf("negative position %d", m.Position)}
		}
		msg = m
	case TypeUndo:
		msg = UndoRequest{}
	case TypeRedo:
		msg = RedoRequest{}
	case TypeSave:
		msg = SaveRequest{}
	case TypeSync:
		msg = SyncRequest{}
	case "":
		return nil, &DecodeError{Err: fmt.Errorf("missing type")}
	default:
		return nil, &DecodeError{Type: h.Type, Err: fmt.Errorf("unknown message type")}
	}
	return msg, nil
}

// Encode serializes an outbound event as a flat object tagged with its type.
func Encode(ev Outbound) ([]byte, error) {
	return tag(ev.Type(), ev)
}

// EncodeInbound serializes a client message. Used by clients and tests.
func EncodeInbound(msg Inbound) ([]byte, error) {
	return tag(msg.Type(), msg)
}

func tag(t Type, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	typ, _ := json.Marshal(t)

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeOutbound parses a server event. Used by clients and tests.
func DecodeOutbound(data []byte) (Outbound, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var (
		ev  Outbound
		err error
	)
	switch h.Type {
	case TypeUserJoined:
		ev, err = unmarshal[UserJoined](data)
	case TypeUserLeft:
		ev, err = unmarshal[UserLeft](data)
	case TypePresence:
		ev, err = unmarshal[Presence](data)
	case TypeDocumentChange:
		ev, err = unmarshal[Changed](data)
	case TypeAttribution:
		ev, err = unmarshal[Attribution](data)
	case TypeError:
		ev, err = unmarshal[Error](data)
	case TypeRecovery:
		ev, err = unmarshal[Recovery](data)
	case TypeDocumentSaved:
		ev, err = unmarshal[DocumentSaved](data)
	default:
		return nil, &DecodeError{Type: h.Type, Err: fmt.Errorf("unknown event type")}
	}
	if err != nil {
		return nil, &DecodeError{Type: h.Type, Err: err}
	}
	return ev, nil
}

func unmarshal[T Outbound](data []byte) (Outbound, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

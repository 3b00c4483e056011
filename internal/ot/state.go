package ot

// DefaultHistoryLimit bounds the operations a State keeps for transforming
// late-arriving edits.
const DefaultHistoryLimit = 1000

// State is the mutable text of one document with its version, history and
// undo/redo stacks.
//
// version always equals base+len(history): base is the version preceding the
// oldest retained history entry. A State created empty and never trimmed has
// base zero, so version equals len(history).
type State struct {
	text    string
	version int
	base    int
	limit   int
	history []Operation
	undo    []Operation
	redo    []Operation
}

// NewState returns a State holding text at version. A non-positive limit
// selects DefaultHistoryLimit.
func NewState(text string, version, limit int) *State {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if version < 0 {
		version = 0
	}
	return &State{text: text, version: version, base: version, limit: limit}
}

func (s *State) Text() string { return s.text }

func (s *State) Version() int { return s.version }

// OldestVersion is the smallest base version Rebase accepts.
func (s *State) OldestVersion() int { return s.base }

// History returns a copy of the retained history, oldest first.
func (s *State) History() []Operation {
	out := make([]Operation, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) CanUndo() bool { return len(s.undo) > 0 }

func (s *State) CanRedo() bool { return len(s.redo) > 0 }

// Rebase transforms op, generated against baseVersion, so it applies to the
// current version. An op already at the current version is returned as is.
func (s *State) Rebase(op Operation, baseVersion int) (Operation, error) {
	if baseVersion < s.base || baseVersion > s.version {
		return Operation{}, &ConflictError{
			BaseVersion:    baseVersion,
			CurrentVersion: s.version,
			OldestVersion:  s.base,
		}
	}
	return TransformAll(op, s.history[baseVersion-s.base:]), nil
}

// Submit rebases op from baseVersion and applies it.
func (s *State) Submit(op Operation, baseVersion int) (Operation, error) {
	op, err := s.Rebase(op, baseVersion)
	if err != nil {
		return Operation{}, err
	}
	return s.Apply(op), nil
}

// Apply applies op at the current version, records it for undo and clears
// the redo stack. It returns the operation as applied.
func (s *State) Apply(op Operation) Operation {
	applied := s.commit(op)
	s.undo = appendBounded(s.undo, applied, s.limit)
	s.redo = s.redo[:0]
	return applied
}

// Undo reverts the most recent undoable operation by applying its inverse.
// The version advances; the undone operation goes onto the redo stack.
func (s *State) Undo() (Operation, bool) {
	if len(s.undo) == 0 {
		return Operation{}, false
	}
	op := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	inverse := s.commit(Invert(op))
	s.redo = append(s.redo, op)
	return inverse, true
}

// Redo re-applies the most recently undone operation through Apply, which
// clears any further redo entries.
func (s *State) Redo() (Operation, bool) {
	if len(s.redo) == 0 {
		return Operation{}, false
	}
	op := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	op.Removed = ""
	return s.Apply(op), true
}

// commit applies op to the text and appends it to history.
func (s *State) commit(op Operation) Operation {
	var applied Operation
	s.text, applied = apply(s.text, op)
	s.history = append(s.history, applied)
	s.version++
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
		s.base += over
	}
	return applied
}

func appendBounded(ops []Operation, op Operation, limit int) []Operation {
	ops = append(ops, op)
	if over := len(ops) - limit; over > 0 {
		ops = append(ops[:0:0], ops[over:]...)
	}
	return ops
}

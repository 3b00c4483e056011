package ot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Apply(t *testing.T) {
	s := NewState("", 0, 0)
	s.Apply(Insert(0, "abc", "u1"))
	s.Apply(Delete(1, 1, "u1"))

	assert.Equal(t, "ac", s.Text())
	assert.Equal(t, 2, s.Version())
	assert.Len(t, s.History(), s.Version())
	assert.True(t, s.CanUndo())
	assert.False(t, s.CanRedo())
}

func TestState_UndoRestoresText(t *testing.T) {
	s := NewState("abc", 0, 0)
	s.Apply(Insert(3, "d", "u1"))
	require.Equal(t, "abcd", s.Text())

	inverse, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, KindDelete, inverse.Kind)
	assert.Equal(t, 3, inverse.Position)
	assert.Equal(t, 1, inverse.Length)
	assert.Equal(t, "d", inverse.Removed)
	assert.Equal(t, "abc", s.Text())
	// The version is monotonic: an undo is itself a new version.
	assert.Equal(t, 2, s.Version())
	assert.Len(t, s.History(), 2)
}

func TestState_UndoDeleteReinsertsRemovedText(t *testing.T) {
	s := NewState("hello world", 0, 0)
	s.Apply(Delete(5, 6, "u1"))
	require.Equal(t, "hello", s.Text())

	_, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, "hello world", s.Text())
}

func TestState_RedoRestoresUndoneState(t *testing.T) {
	s := NewState("abc", 0, 0)
	s.Apply(Delete(0, 2, "u1"))
	afterApply := s.Text()

	s.Undo()
	redone, ok := s.Redo()
	require.True(t, ok)
	assert.Equal(t, afterApply, s.Text())
	assert.Equal(t, "ab", redone.Removed)
	assert.Equal(t, 3, s.Version())
	assert.True(t, s.CanUndo())
}

func TestState_UndoRedoEmptyAreNoops(t *testing.T) {
	s := NewState("abc", 4, 0)

	_, ok := s.Undo()
	assert.False(t, ok)
	_, ok = s.Redo()
	assert.False(t, ok)
	assert.Equal(t, "abc", s.Text())
	assert.Equal(t, 4, s.Version())
}

func TestState_FreshEditClearsRedo(t *testing.T) {
	s := NewState("", 0, 0)
	s.Apply(Insert(0, "a", "u1"))
	s.Apply(Insert(1, "b", "u1"))

	s.Undo()
	require.True(t, s.CanRedo())

	s.Apply(Insert(1, "c", "u1"))
	assert.False(t, s.CanRedo())

	_, ok := s.Redo()
	assert.False(t, ok)
	assert.Equal(t, "ac", s.Text())
}

func TestState_RedoAfterSecondUndoOnlyRestoresOne(t *testing.T) {
	s := NewState("", 0, 0)
	s.Apply(Insert(0, "a", "u1"))
	s.Apply(Insert(1, "b", "u1"))
	s.Undo()
	s.Undo()
	require.Equal(t, "", s.Text())

	s.Redo()
	assert.Equal(t, "a", s.Text())
	// Redo goes through Apply, which drops the remaining redo entry.
	assert.False(t, s.CanRedo())
}

func TestState_RebaseAtCurrentVersionIsIdentity(t *testing.T) {
	s := NewState("abc", 0, 0)
	s.Apply(Insert(0, "X", "u1"))

	op := Insert(2, "Y", "u2")
	got, err := s.Rebase(op, 1)
	require.NoError(t, err)
	assert.Equal(t, op, got)
}

func TestState_RebaseTransformsAgainstNewerHistory(t *testing.T) {
	s := NewState("abc", 0, 0)
	s.Apply(Insert(0, "XX", "u1"))
	s.Apply(Delete(4, 1, "u1"))

	got, err := s.Rebase(Insert(2, "Y", "u2"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Position)
}

func TestState_RebaseConflicts(t *testing.T) {
	s := NewState("abc", 10, 0)

	_, err := s.Rebase(Insert(0, "X", ""), 9)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	_, err = s.Rebase(Insert(0, "X", ""), 11)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 11, ce.BaseVersion)
	assert.Equal(t, 10, ce.CurrentVersion)
}

func TestState_HistoryIsBounded(t *testing.T) {
	s := NewState("", 0, 3)
	for i := 0; i < 5; i++ {
		s.Apply(Insert(0, "a", ""))
	}

	assert.Equal(t, 5, s.Version())
	assert.Equal(t, 2, s.OldestVersion())
	assert.Len(t, s.History(), 3)
	assert.Equal(t, s.Version(), s.OldestVersion()+len(s.History()))

	_, err := s.Submit(Insert(0, "b", ""), 1)
	assert.True(t, IsConflict(err))
	_, err = s.Submit(Insert(0, "b", ""), 2)
	assert.NoError(t, err)
}

func TestState_SubmitHugeDelete(t *testing.T) {
	s := NewState("abc", 0, 0)
	applied, err := s.Submit(Delete(1, math.MaxInt, "u1"), 0)
	require.NoError(t, err)

	assert.Equal(t, "a", s.Text())
	assert.Equal(t, 2, applied.Length)
	assert.Equal(t, "bc", applied.Removed)

	_, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, "abc", s.Text())
}

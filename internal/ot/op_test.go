package ot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_Insert(t *testing.T) {
	assert.Equal(t, "hello world", Apply("hello", Insert(5, " world", "")))
	assert.Equal(t, "Xabc", Apply("abc", Insert(0, "X", "")))
	assert.Equal(t, "aXbc", Apply("abc", Insert(1, "X", "")))
}

func TestApply_Delete(t *testing.T) {
	assert.Equal(t, "hello", Apply("hello world", Delete(5, 6, "")))
	assert.Equal(t, "ac", Apply("abc", Delete(1, 1, "")))
	assert.Equal(t, "abc", Apply("abc", Delete(1, 0, "")))
}

func TestApply_ClampsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   Operation
		want string
	}{
		{"insert past end", "abc", Insert(10, "d", ""), "abcd"},
		{"insert negative", "abc", Insert(-3, "X", ""), "Xabc"},
		{"delete past end truncates", "abc", Delete(1, 10, ""), "a"},
		{"delete entirely past end", "abc", Delete(7, 2, ""), "abc"},
		{"delete negative length", "abc", Delete(1, -2, ""), "abc"},
		{"empty text", "", Delete(0, 1, ""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, Apply(tt.text, tt.op))
			})
		})
	}
}

func TestApply_CountsCodePoints(t *testing.T) {
	assert.Equal(t, "héXllo", Apply("héllo", Insert(2, "X", "")))
	assert.Equal(t, "h😀o", Apply("h😀llo", Delete(2, 2, "")))
	assert.Equal(t, 2, Insert(0, "éé", "").Span())
}

func TestApply_CapturesRemovedText(t *testing.T) {
	out, applied := apply("abcdef", Delete(4, 5, "u1"))
	assert.Equal(t, "abcd", out)
	assert.Equal(t, 4, applied.Position)
	assert.Equal(t, 2, applied.Length)
	assert.Equal(t, "ef", applied.Removed)
	assert.Equal(t, "u1", applied.Author)
}

func TestInvert(t *testing.T) {
	ins := Insert(2, "xyz", "u1")
	assert.Equal(t, Delete(2, 3, "u1"), Invert(ins))

	_, del := apply("abcdef", Delete(1, 2, "u1"))
	assert.Equal(t, Insert(1, "bc", "u1"), Invert(del))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Insert(0, "a", "").Validate())
	require.NoError(t, Delete(3, 0, "").Validate())

	assert.Error(t, Insert(-1, "a", "").Validate())
	assert.Error(t, Delete(0, -1, "").Validate())
	assert.Error(t, Operation{Kind: "replace"}.Validate())
	assert.Error(t, Operation{Kind: KindInsert, Text: "a", Length: 2}.Validate())
	assert.Error(t, Operation{Kind: KindDelete, Text: "a", Length: 1}.Validate())
}

func TestApply_HugeValuesClampToText(t *testing.T) {
	assert.Equal(t, "a", Apply("abc", Delete(1, math.MaxInt, "")))
	assert.Equal(t, "", Apply("abc", Delete(0, math.MaxInt, "")))
	assert.Equal(t, "abcX", Apply("abc", Insert(math.MaxInt, "X", "")))
	assert.Equal(t, "abc", Apply("abc", Delete(math.MaxInt, math.MaxInt, "")))
}

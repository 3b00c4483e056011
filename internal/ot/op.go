package ot

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// Kind distinguishes operation variants.
type Kind string

const (
	// KindInsert splices text into the document.
	KindInsert Kind = "insert"
	// KindDelete removes a span of the document.
	KindDelete Kind = "delete"
)

// Operation is a single edit. Positions and lengths count code points.
//
// Operations are values: Transform and Apply return adjusted copies and never
// mutate their arguments.
type Operation struct {
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`   // insert only
	Length   int    `json:"length,omitempty"` // delete only
	Author   string `json:"author,omitempty"`

	// Removed holds the text a delete actually removed. It is captured when
	// the delete is applied to a State and is what makes the delete invertible.
	Removed string `json:"-"`

	// Origin names the replica that admitted the operation. Concurrent
	// inserts at one position from different origins are ordered by it.
	Origin string `json:"-"`
}

// Insert returns an insert of text at pos.
func Insert(pos int, text, author string) Operation {
	return Operation{Kind: KindInsert, Position: pos, Text: text, Author: author}
}

// Delete returns a delete of length code points starting at pos.
func Delete(pos, length int, author string) Operation {
	return Operation{Kind: KindDelete, Position: pos, Length: length, Author: author}
}

// Span is the number of code points the operation inserts or deletes.
func (op Operation) Span() int {
	if op.Kind == KindInsert {
		return utf8.RuneCountInString(op.Text)
	}
	return op.Length
}

// IsNoop reports whether applying op leaves every text unchanged.
func (op Operation) IsNoop() bool {
	return op.Span() == 0
}

// Validate checks the fields a client controls.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindInsert:
		if op.Length != 0 {
			return fmt.Errorf("insert must not carry a length")
		}
	case KindDelete:
		if op.Text != "" {
			return fmt.Errorf("delete must not carry text")
		}
		if op.Length < 0 {
			return fmt.Errorf("negative delete length %d", op.Length)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if op.Position < 0 {
		return fmt.Errorf("negative position %d", op.Position)
	}
	return nil
}

func (op Operation) String() string {
	if op.Kind == KindInsert {
		return fmt.Sprintf("insert(%d,%q)", op.Position, op.Text)
	}
	return fmt.Sprintf("delete(%d,%d)", op.Position, op.Length)
}

// Apply returns text with op applied. It never fails.
func Apply(text string, op Operation) string {
	out, _ := apply(text, op)
	return out
}

// apply applies op and returns the operation as it actually took effect:
// position and length clamped to the text, Removed filled in for deletes.
func apply(text string, op Operation) (string, Operation) {
	runes := []rune(text)
	pos := clamp(op.Position, 0, len(runes))
	op.Position = pos

	switch op.Kind {
	case KindInsert:
		op.Length = 0
		return string(runes[:pos]) + op.Text + string(runes[pos:]), op
	case KindDelete:
		end := pos + clamp(op.Length, 0, len(runes)-pos)
		op.Length = end - pos
		op.Removed = string(runes[pos:end])
		return string(runes[:pos]) + string(runes[end:]), op
	}
	return text, op
}

// Invert returns the operation undoing op. For deletes this requires Removed,
// which State captures at apply time.
func Invert(op Operation) Operation {
	inv := Insert(op.Position, op.Removed, op.Author)
	if op.Kind == KindInsert {
		inv = Delete(op.Position, op.Span(), op.Author)
	}
	inv.Origin = op.Origin
	return inv
}

// addSat adds two non-negative ints, saturating at math.MaxInt.
func addSat(x, y int) int {
	if y > math.MaxInt-x {
		return math.MaxInt
	}
	return x + y
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

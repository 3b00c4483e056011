package ot

// Transform returns the version of a that must be applied after b has already
// been applied, where a and b were generated against the same text.
//
// Simultaneous inserts at the same position keep a in place when both come
// from the same origin, so admission order decides; across origins the
// insert with the lower origin goes first on every replica. Overlapping
// deletes shrink a by the shared span, so deleting the same region twice is a
// no-op rather than a double delete.
func Transform(a, b Operation) Operation {
	switch a.Kind {
	case KindInsert:
		switch b.Kind {
		case KindInsert:
			if a.Position > b.Position || a.Position == b.Position && a.Origin > b.Origin {
				a.Position = addSat(a.Position, b.Span())
			}
		case KindDelete:
			switch {
			case a.Position <= b.Position:
			case a.Position-b.Position > b.Length:
				a.Position -= b.Length
			default:
				// Inside the deleted range: collapse to its start.
				a.Position = b.Position
			}
		}
	case KindDelete:
		switch b.Kind {
		case KindInsert:
			if a.Position >= b.Position {
				a.Position = addSat(a.Position, b.Span())
			}
		case KindDelete:
			switch {
			case a.Position >= b.Position && a.Position-b.Position >= b.Length:
				a.Position -= b.Length
			case b.Position >= a.Position && b.Position-a.Position >= a.Length:
			default:
				aEnd, bEnd := addSat(a.Position, a.Length), addSat(b.Position, b.Length)
				overlap := max(0, min(aEnd, bEnd)-max(a.Position, b.Position))
				a.Length = max(0, a.Length-overlap)
				a.Position = min(a.Position, b.Position)
			}
		}
	}
	a.Removed = ""
	return a
}

// TransformAll transforms op against each operation in ops, in order.
func TransformAll(op Operation, ops []Operation) Operation {
	for _, o := range ops {
		op = Transform(op, o)
	}
	return op
}

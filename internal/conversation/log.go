// Package conversation owns a single chat session: the ordered transcript,
// the dispatch state machine and the mapping of backend failures into
// user-facing errors.
package conversation

import "mai-chat/internal/domain"

// Log is the append-only transcript of a session. It is not safe for
// concurrent use on its own; the Controller serializes access.
type Log struct {
	turns []domain.Turn
}

func NewLog() *Log {
	return &Log{}
}

// Append adds a turn to the end of the transcript. Role alternation is not
// enforced: a failed dispatch followed by a resend leaves two user turns in a
// row.
func (l *Log) Append(turn domain.Turn) {
	l.turns = append(l.turns, turn)
}

// Snapshot returns a copy of the transcript in insertion order.
func (l *Log) Snapshot() []domain.Turn {
	out := make([]domain.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	return len(l.turns)
}

package interview

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hiremind/interview/internal/domain"
)

// TurnToken identifies one turn. Results carrying an older token are stale.
type TurnToken struct {
	id    uuid.UUID
	index int
}

func (t TurnToken) String() string { return t.id.String() }

type turnPhase int

const (
	turnOpen turnPhase = iota
	turnFinalized
)

// TranscriptBuffer holds the candidate's answer for the current turn.
// Every change bumps the revision.
type TranscriptBuffer struct {
	text     string
	rev      uint64
	estimate domain.TurnEstimate
}

// Update replaces the text and reports whether it changed.
func (b *TranscriptBuffer) Update(text string) bool {
	text = strings.TrimSpace(text)
	if text == b.text {
		return false
	}
	b.text = text
	b.rev++
	return true
}

func (b *TranscriptBuffer) Text() string                  { return b.text }
func (b *TranscriptBuffer) Revision() uint64              { return b.rev }
func (b *TranscriptBuffer) Estimate() domain.TurnEstimate { return b.estimate }

func (b *TranscriptBuffer) setEstimate(e domain.TurnEstimate) { b.estimate = e }

func (b *TranscriptBuffer) Reset() {
	b.text = ""
	b.rev++
	b.estimate = domain.TurnEstimate{}
}

type turn struct {
	token    TurnToken
	phase    turnPhase
	index    int
	question string
	buf      TranscriptBuffer

	captureStarted  bool
	classifying     bool
	classifyPending bool
}

func newTurn(index int, question string) *turn {
	return &turn{
		token:    TurnToken{id: uuid.New(), index: index},
		index:    index,
		question: question,
	}
}

func (t *turn) open() bool { return t.phase == turnOpen }

// claim consumes the token. Only the first caller holding the current token
// wins.
func (t *turn) claim(tok TurnToken) bool {
	if t.token != tok || t.phase != turnOpen {
		return false
	}
	t.phase = turnFinalized
	return true
}

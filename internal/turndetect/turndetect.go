// Package turndetect decides whether a candidate has finished answering.
package turndetect

import (
	"context"
	"log"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/llm"
)

// Verdicts is the part of llm.Client the classifier needs.
type Verdicts interface {
	ClassifyTurn(ctx context.Context, transcript, question string) (*llm.TurnVerdict, error)
}

// Classifier asks an LLM whether a transcript is a complete answer. Failures
// never surface as errors: they produce a not-complete estimate with zero
// confidence so the silence timer stays in charge.
type Classifier struct {
	llm     Verdicts
	timeout time.Duration
	logger  *log.Logger
}

// New creates a classifier. A nil client makes it fall back to Heuristic.
func New(client Verdicts, timeout time.Duration, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Classifier{llm: client, timeout: timeout, logger: logger}
}

// Classify implements interview.TurnClassifier.
func (c *Classifier) Classify(ctx context.Context, transcript, question string) (domain.TurnEstimate, error) {
	if strings.TrimSpace(transcript) == "" {
		return domain.TurnEstimate{Reasoning: "Empty transcript"}, nil
	}
	if c.llm == nil {
		return Heuristic(transcript), nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	v, err := c.llm.ClassifyTurn(ctx, transcript, question)
	if err != nil {
		c.logger.Printf("turndetect: classify failed: %v", err)
		return domain.TurnEstimate{Reasoning: "Error analyzing transcript"}, nil
	}
	return domain.TurnEstimate{
		IsComplete: v.IsComplete,
		Confidence: clamp(v.Confidence),
		Reasoning:  v.Reasoning,
	}, nil
}

var trailingFillers = map[string]bool{
	"um": true, "uh": true, "umm": true, "uhh": true, "and": true, "because": true,
	"so": true, "like": true, "but": true, "or": true, "the": true, "a": true,
}

// Heuristic is a local classifier used when no LLM is configured.
func Heuristic(transcript string) domain.TurnEstimate {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return domain.TurnEstimate{Reasoning: "Empty transcript"}
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	last := ""
	if len(words) > 0 {
		last = words[len(words)-1]
	}

	switch {
	case strings.HasSuffix(text, ",") || strings.HasSuffix(text, "..."):
		return domain.TurnEstimate{Confidence: 0.8, Reasoning: "Trailing pause mark"}
	case trailingFillers[last]:
		return domain.TurnEstimate{Confidence: 0.8, Reasoning: "Trailing filler word"}
	case strings.ContainsAny(text[len(text)-1:], ".!?") && len(words) >= 4:
		return domain.TurnEstimate{IsComplete: true, Confidence: 0.75, Reasoning: "Complete sentence"}
	case len(words) >= 12:
		return domain.TurnEstimate{IsComplete: true, Confidence: 0.5, Reasoning: "Long answer without ending"}
	default:
		return domain.TurnEstimate{Confidence: 0.3, Reasoning: "Answer appears unfinished"}
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

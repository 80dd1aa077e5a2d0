package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of interview event
type EventType string

const (
	EventInterviewStarted EventType = "interview_started"
	EventQuestionAsked    EventType = "question_asked"
	EventTurnFinalized    EventType = "turn_finalized"
	EventBargeIn          EventType = "barge_in"
	EventTurnEstimate     EventType = "turn_estimate"
	EventSaveFailed       EventType = "save_failed"
	EventTTSFallback      EventType = "tts_fallback"
	EventAnalysisFailed   EventType = "analysis_failed"
	EventAnalysisDone     EventType = "analysis_completed"
	EventInterviewEnded   EventType = "interview_ended"
	EventInterviewCosts   EventType = "interview_costs"
)

// Writer persists a serialized event.
type Writer interface {
	InsertInterviewEvent(ctx context.Context, sessionID, eventType string, data []byte) error
}

// Logger provides async event logging to the database
type Logger struct {
	w  Writer
	wg sync.WaitGroup
}

// New creates a new event logger. A nil writer disables logging.
func New(w Writer) *Logger {
	return &Logger{w: w}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.w == nil || sessionID == "" {
		return nil
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}
	return l.w.InsertInterviewEvent(ctx, sessionID, string(eventType), dataJSON)
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.w == nil || sessionID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Flush waits for pending async writes.
func (l *Logger) Flush() {
	if l != nil {
		l.wg.Wait()
	}
}

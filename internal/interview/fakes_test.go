package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hiremind/interview/internal/domain"
)

type fakeStore struct {
	mu          sync.Mutex
	created     []domain.Session
	turns       map[int]domain.Turn
	saveErr     error
	saveCalls   int
	savesAt     map[int]int
	lostAcks    int // saves that commit but still report an error
	completed   int
	completeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: make(map[int]domain.Turn), savesAt: make(map[int]int)}
}

func (s *fakeStore) CreateSession(_ context.Context, sess domain.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, sess)
	return fmt.Sprintf("sess-%d", len(s.created)), nil
}

func (s *fakeStore) SaveTurn(_ context.Context, _ string, t domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.savesAt[t.Index]++
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.turns[t.Index]; ok {
		return domain.ErrTurnExists
	}
	s.turns[t.Index] = t
	if s.lostAcks > 0 {
		s.lostAcks--
		return context.DeadlineExceeded
	}
	return nil
}

func (s *fakeStore) MarkComplete(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed++
	return nil
}

func (s *fakeStore) savedTurns() map[int]domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]domain.Turn, len(s.turns))
	for k, v := range s.turns {
		out[k] = v
	}
	return out
}

func (s *fakeStore) saveCount(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savesAt[index]
}

func (s *fakeStore) completedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

type fakeQuestions struct {
	mu    sync.Mutex
	err   error
	calls int
	reqs  []domain.QuestionRequest
}

func (q *fakeQuestions) Next(_ context.Context, req domain.QuestionRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.reqs = append(q.reqs, req)
	if q.err != nil {
		return "", q.err
	}
	return fmt.Sprintf("Question %d?", req.Number), nil
}

func (q *fakeQuestions) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	failures int
	calls    int
	skipped  int
	turns    []domain.Turn
}

func (a *fakeAnalyzer) Analyze(_ context.Context, sessionID string, turns []domain.Turn, skipped int, _ *domain.BehavioralMetrics) (*domain.AnalysisResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.turns = turns
	a.skipped = skipped
	if a.failures > 0 {
		a.failures--
		return nil, errors.New("llm unavailable")
	}
	return &domain.AnalysisResult{SessionID: sessionID, OverallScore: 80, SkippedCount: skipped}, nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeClassifier answers with est, or hands every call to calls when it is set.
type fakeClassifier struct {
	est   domain.TurnEstimate
	calls chan classifyCall
}

type classifyCall struct {
	text  string
	reply chan domain.TurnEstimate
}

func (f *fakeClassifier) Classify(ctx context.Context, text, _ string) (domain.TurnEstimate, error) {
	if f.calls == nil {
		return f.est, nil
	}
	call := classifyCall{text: text, reply: make(chan domain.TurnEstimate, 1)}
	select {
	case f.calls <- call:
	case <-ctx.Done():
		return domain.TurnEstimate{}, ctx.Err()
	}
	select {
	case est := <-call.reply:
		return est, nil
	case <-ctx.Done():
		return domain.TurnEstimate{}, ctx.Err()
	}
}

type fakeSynth struct {
	mu      sync.Mutex
	block   bool
	err     error
	spoken  []string
	cancels int
}

func (s *fakeSynth) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	block, err := s.block, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSynth) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *fakeSynth) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// fakeCapture optionally answers each capture session with answer(n).
type fakeCapture struct {
	mu     sync.Mutex
	answer func(n int) string
	starts int
	stops  int
	sink   CaptureSink
}

func (c *fakeCapture) Start(_ context.Context, sink CaptureSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.sink = sink
	if c.answer != nil {
		text := c.answer(c.starts)
		go sink.Transcript(text)
	}
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCapture) currentSink() CaptureSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

func (c *fakeCapture) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

type fakeDevices struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (d *fakeDevices) Acquire(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	return nil
}

func (d *fakeDevices) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
}

func (d *fakeDevices) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires, d.releases
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store    *fakeStore
	qs       *fakeQuestions
	analyzer *fakeAnalyzer
	cls      *fakeClassifier
	synth    *fakeSynth
	capture  *fakeCapture
	devices  *fakeDevices
	rec      *recorder
}

func newHarness() *harness {
	return &harness{
		store:    newFakeStore(),
		qs:       &fakeQuestions{},
		analyzer: &fakeAnalyzer{},
		cls:      &fakeClassifier{est: domain.TurnEstimate{IsComplete: true, Confidence: 0.9}},
		synth:    &fakeSynth{},
		capture:  &fakeCapture{},
		devices:  &fakeDevices{},
		rec:      &recorder{},
	}
}

func testConfig() Config {
	return Config{
		SilenceTimeout:         2 * time.Second,
		ClassifierTimeout:      time.Second,
		ListenDelay:            time.Millisecond,
		SynthesisFallbackDelay: time.Millisecond,
	}
}

// start runs a controller through Begin and Setup.
func (h *harness) start(t *testing.T, cfg Config, observe func(*Controller, Event)) (*Controller, <-chan error) {
	t.Helper()
	var c *Controller
	c = NewController(cfg, Deps{
		Sessions:   h.store,
		Questions:  h.qs,
		Analyzer:   h.analyzer,
		Classifier: h.cls,
		Synth:      h.synth,
		Capture:    h.capture,
		Devices:    h.devices,
		Observer: func(ev Event) {
			h.rec.observe(ev)
			if observe != nil {
				observe(c, ev)
			}
		},
	})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	t.Cleanup(c.End)

	if err := c.Begin(Permissions{Microphone: PermissionGranted, Camera: PermissionGranted}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Setup(SetupParams{UserID: "u1", Topic: "technical", DurationMinutes: 5}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return c, errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

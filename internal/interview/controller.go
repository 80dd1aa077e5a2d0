package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hiremind/interview/internal/domain"
)

// Deps are the controller's collaborators. Devices, Metrics, Observer and
// Logger are optional.
type Deps struct {
	Sessions   SessionStore
	Questions  QuestionGenerator
	Analyzer   Analyzer
	Classifier TurnClassifier
	Synth      Synthesizer
	Capture    Capture
	Devices    Devices
	Metrics    MetricsSource

	// Observer is called on the controller goroutine. It must not block and
	// must not call back into methods that wait for a reply.
	Observer func(Event)
	Logger   *log.Logger
}

// Controller runs one interview. All state transitions happen on the
// goroutine executing Run; the exported methods only enqueue events.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *log.Logger

	events chan any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	endOnce     sync.Once
	releaseOnce sync.Once
	acquired    atomic.Bool

	mu   sync.Mutex
	snap Snapshot

	// owned by the loop goroutine
	state       State
	session     domain.Session
	creating    bool
	turns       []domain.Turn
	turn        *turn
	skipped     int
	speakEpoch  uint64
	speakCancel context.CancelFunc
	genSeq      uint64
	genInFlight bool
	silence     *time.Timer
	metrics     *domain.BehavioralMetrics
	analysisSeq uint64
	lastErr     error
	result      *domain.AnalysisResult
	finished    bool
}

func NewController(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		events: make(chan any, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	c.snap = Snapshot{State: StateIdle}
	return c
}

type (
	beginCmd struct {
		perms Permissions
		reply chan error
	}
	setupCmd struct {
		params SetupParams
		reply  chan error
	}
	retryCmd struct {
		reply chan error
	}
	skipCmd        struct{}
	sessionCreated struct {
		session domain.Session
		err     error
	}
	questionReady struct {
		seq    uint64
		number int
		text   string
	}
	speechDone struct {
		epoch uint64
		err   error
	}
	listenAt struct {
		tok TurnToken
	}
	transcriptEv struct {
		tok     TurnToken
		current bool
		text    string
	}
	speechEv struct {
		active bool
	}
	classified struct {
		tok TurnToken
		rev uint64
		est domain.TurnEstimate
	}
	silenceEv struct {
		tok TurnToken
	}
	turnSaved struct {
		tok TurnToken
		err error
	}
	analyzed struct {
		seq uint64
		res *domain.AnalysisResult
		err error
	}
)

// Run processes events until the interview completes, End is called, or ctx
// is cancelled. Cancelling ctx behaves like End.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			c.End()
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrInterviewEnded
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
			if c.finished {
				return nil
			}
		}
	}
}

// Begin checks device permissions and moves to awaiting_setup.
func (c *Controller) Begin(p Permissions) error {
	return c.call(func(reply chan error) any { return beginCmd{perms: p, reply: reply} })
}

// Setup creates the session and starts the first question.
func (c *Controller) Setup(p SetupParams) error {
	return c.call(func(reply chan error) any { return setupCmd{params: p, reply: reply} })
}

// RetryAnalysis reruns a failed analysis.
func (c *Controller) RetryAnalysis() error {
	return c.call(func(reply chan error) any { return retryCmd{reply: reply} })
}

// Transcript updates the current turn's transcript.
func (c *Controller) Transcript(text string) {
	c.post(transcriptEv{current: true, text: text})
}

// SpeechDetected reports voice activity from the candidate.
func (c *Controller) SpeechDetected(active bool) {
	c.post(speechEv{active: active})
}

// Skip finalizes the current turn as skipped.
func (c *Controller) Skip() {
	c.post(skipCmd{})
}

// End stops capture and synthesis, releases the devices, and abandons any
// in-flight work. It returns after capture and synthesis were told to stop.
func (c *Controller) End() {
	c.endOnce.Do(func() {
		c.cancel()
		if err := c.deps.Synth.Cancel(); err != nil {
			c.logger.Printf("interview: cancel synthesis: %v", err)
		}
		if err := c.deps.Capture.Stop(); err != nil {
			c.logger.Printf("interview: stop capture: %v", err)
		}
		c.releaseDevices()
	})
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Turns = append([]domain.Turn(nil), c.snap.Turns...)
	return s
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.State
}

func (c *Controller) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Controller) call(mk func(chan error) any) error {
	reply := make(chan error, 1)
	if !c.post(mk(reply)) {
		return ErrInterviewEnded
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
	case <-c.ctx.Done():
	}
	select {
	case err := <-reply:
		return err
	default:
		return ErrInterviewEnded
	}
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case beginCmd:
		e.reply <- c.onBegin(e.perms)
	case setupCmd:
		e.reply <- c.onSetup(e.params)
	case retryCmd:
		e.reply <- c.onRetry()
	case sessionCreated:
		c.onSessionCreated(e)
	case questionReady:
		c.onQuestion(e)
	case speechDone:
		c.onSpeechDone(e)
	case listenAt:
		if t := c.turn; t != nil && t.token == e.tok && t.open() && c.state == StateAISpeaking {
			c.startListening()
		}
	case transcriptEv:
		c.onTranscript(e)
	case speechEv:
		c.onSpeech(e.active)
	case classified:
		c.onClassified(e)
	case silenceEv:
		if t := c.turn; t != nil && t.token == e.tok && c.state == StateListening {
			c.finalize(e.tok, CauseTimeout)
		}
	case skipCmd:
		if t := c.turn; t != nil && t.open() && (c.state == StateAISpeaking || c.state == StateListening) {
			c.finalize(t.token, CauseSkip)
		}
	case turnSaved:
		c.onTurnSaved(e)
	case analyzed:
		c.onAnalyzed(e)
	}
}

func (c *Controller) onBegin(p Permissions) error {
	if c.state != StateIdle {
		return ErrInvalidState
	}
	if err := p.Check(); err != nil {
		c.emit(Event{Type: EventError, Err: err})
		return err
	}
	c.setState(StateAwaitingSetup)
	return nil
}

func (c *Controller) onSetup(p SetupParams) error {
	if c.state != StateAwaitingSetup || c.creating {
		return ErrInvalidState
	}
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		topic = "general"
	}
	s := domain.Session{
		UserID:        p.UserID,
		Topic:         topic,
		Difficulty:    domain.ParseDifficulty(string(p.Difficulty)),
		QuestionCount: QuestionCount(p.DurationMinutes),
		Status:        domain.StatusInProgress,
		Scenario:      p.Scenario,
		CreatedAt:     time.Now().UTC(),
	}
	c.creating = true
	go func() {
		err := c.acquireDevices()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SaveTimeout)
			var id string
			id, err = c.deps.Sessions.CreateSession(ctx, s)
			cancel()
			s.ID = id
		}
		c.post(sessionCreated{session: s, err: err})
	}()
	return nil
}

func (c *Controller) onSessionCreated(e sessionCreated) {
	c.creating = false
	if c.state != StateAwaitingSetup {
		return
	}
	if e.err != nil {
		c.logger.Printf("interview: create session: %v", e.err)
		c.emit(Event{Type: EventError, Err: fmt.Errorf("create session: %w", e.err), Retryable: true})
		return
	}
	c.session = e.session
	c.logger.Printf("interview %s: started (%d questions, %s)", c.session.ID, c.session.QuestionCount, c.session.Difficulty)
	c.requestQuestion(1)
}

func (c *Controller) onRetry() error {
	if c.state != StateComplete || c.result != nil || c.lastErr == nil {
		return ErrInvalidState
	}
	c.lastErr = nil
	c.setState(StateFinalizing)
	c.runAnalysis()
	return nil
}

func (c *Controller) requestQuestion(number int) {
	if c.genInFlight {
		return
	}
	c.genInFlight = true
	c.genSeq++
	seq := c.genSeq
	req := domain.QuestionRequest{
		SessionID:  c.session.ID,
		UserID:     c.session.UserID,
		Topic:      c.session.Topic,
		Difficulty: c.session.Difficulty,
		Number:     number,
		Total:      c.session.QuestionCount,
		History:    append([]domain.Turn(nil), c.turns...),
		Scenario:   c.session.Scenario,
	}
	c.setState(StateAISpeaking)
	go func() {
		q := c.generate(req)
		c.post(questionReady{seq: seq, number: number, text: q})
	}()
}

func (c *Controller) generate(req domain.QuestionRequest) string {
	for attempt := 1; attempt <= c.cfg.QuestionAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.QuestionTimeout)
		q, err := c.deps.Questions.Next(ctx, req)
		cancel()
		if err == nil && strings.TrimSpace(q) != "" {
			return strings.TrimSpace(q)
		}
		if c.ctx.Err() != nil {
			return ""
		}
		c.logger.Printf("interview %s: question %d attempt %d failed: %v", req.SessionID, req.Number, attempt, err)
		c.sleep(time.Duration(attempt) * c.cfg.RetryBackoff)
	}
	return domain.DefaultQuestion
}

func (c *Controller) onQuestion(e questionReady) {
	if e.seq != c.genSeq {
		return
	}
	c.genInFlight = false
	if c.state != StateAISpeaking {
		return
	}
	c.turn = newTurn(e.number, e.text)
	c.session.CurrentIndex = e.number
	c.emit(Event{Type: EventQuestion, Index: e.number, Total: c.session.QuestionCount, Text: e.text})
	c.startSpeaking(e.text)
}

func (c *Controller) startSpeaking(text string) {
	c.speakEpoch++
	epoch := c.speakEpoch
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.MaxSpeakDuration)
	c.speakCancel = cancel
	go func() {
		err := c.deps.Synth.Speak(ctx, text)
		cancel()
		c.post(speechDone{epoch: epoch, err: err})
	}()
}

func (c *Controller) stopSpeaking() {
	c.speakEpoch++
	if c.speakCancel == nil {
		return
	}
	c.speakCancel()
	c.speakCancel = nil
	if err := c.deps.Synth.Cancel(); err != nil {
		c.logger.Printf("interview %s: cancel synthesis: %v", c.session.ID, err)
	}
}

func (c *Controller) onSpeechDone(e speechDone) {
	if e.epoch != c.speakEpoch {
		return
	}
	c.speakCancel = nil
	t := c.turn
	if t == nil || !t.open() || c.state != StateAISpeaking {
		return
	}
	delay := c.cfg.ListenDelay
	if e.err != nil {
		c.logger.Printf("interview %s: synthesis failed: %v", c.session.ID, e.err)
		delay = c.cfg.SynthesisFallbackDelay
	}
	tok := t.token
	time.AfterFunc(delay, func() { c.post(listenAt{tok: tok}) })
}

func (c *Controller) onSpeech(active bool) {
	t := c.turn
	if !active || t == nil || !t.open() || c.state != StateAISpeaking {
		return
	}
	if c.speakCancel != nil {
		c.emit(Event{Type: EventBargeIn, Index: t.index})
	}
	c.stopSpeaking()
	c.startListening()
}

func (c *Controller) startListening() {
	t := c.turn
	c.setState(StateListening)
	if !t.captureStarted && c.ctx.Err() == nil {
		t.captureStarted = true
		if err := c.deps.Capture.Start(c.ctx, turnSink{c: c, tok: t.token}); err != nil {
			c.logger.Printf("interview %s: start capture: %v", c.session.ID, err)
			c.emit(Event{Type: EventError, Index: t.index, Err: fmt.Errorf("start capture: %w", err)})
		}
	}
	c.armSilence()
}

func (c *Controller) armSilence() {
	c.stopSilence()
	tok := c.turn.token
	c.silence = time.AfterFunc(c.cfg.SilenceTimeout, func() { c.post(silenceEv{tok: tok}) })
}

func (c *Controller) stopSilence() {
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
}

func (c *Controller) onTranscript(e transcriptEv) {
	t := c.turn
	if t == nil || !t.open() || c.state != StateListening {
		return
	}
	if !e.current && t.token != e.tok {
		return
	}
	if !t.buf.Update(e.text) {
		return
	}
	c.emit(Event{Type: EventTranscript, Index: t.index, Text: t.buf.Text()})
	c.armSilence()
	if t.buf.Text() != "" {
		c.classify()
	}
}

func (c *Controller) classify() {
	t := c.turn
	if t.classifying {
		t.classifyPending = true
		return
	}
	t.classifying = true
	t.classifyPending = false
	tok, rev, text, question := t.token, t.buf.Revision(), t.buf.Text(), t.question
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ClassifierTimeout)
		defer cancel()
		est, err := c.deps.Classifier.Classify(ctx, text, question)
		if err != nil {
			est = domain.TurnEstimate{Reasoning: "classifier unavailable"}
		}
		est.Confidence = clamp01(est.Confidence)
		c.post(classified{tok: tok, rev: rev, est: est})
	}()
}

func (c *Controller) onClassified(e classified) {
	t := c.turn
	if t == nil || t.token != e.tok {
		return
	}
	t.classifying = false
	if !t.open() || c.state != StateListening {
		return
	}
	if e.rev == t.buf.Revision() {
		t.buf.setEstimate(e.est)
		est := e.est
		c.emit(Event{Type: EventEstimate, Index: t.index, Estimate: &est})
		if est.IsComplete && est.Confidence >= c.cfg.ConfidenceThreshold {
			c.finalize(t.token, CauseClassifier)
			return
		}
	}
	if t.classifyPending && t.buf.Text() != "" {
		c.classify()
	}
}

func (c *Controller) finalize(tok TurnToken, cause FinalizeCause) {
	t := c.turn
	if t == nil || !t.claim(tok) {
		return
	}
	c.stopSilence()
	c.stopSpeaking()
	if t.captureStarted {
		if err := c.deps.Capture.Stop(); err != nil {
			c.logger.Printf("interview %s: stop capture: %v", c.session.ID, err)
		}
	}

	rec := domain.Turn{
		Index:    t.index,
		Question: t.question,
		Answer:   t.buf.Text(),
		At:       time.Now().UTC(),
	}
	if cause == CauseSkip {
		rec.Answer = domain.SkippedAnswer
		rec.Skipped = true
		c.skipped++
	}
	c.turns = append(c.turns, rec)
	c.setState(StateProcessing)
	c.emit(Event{Type: EventTurnFinalized, Index: t.index, Total: c.session.QuestionCount, Cause: cause, Turn: &rec, Text: rec.Answer})

	sessionID := c.session.ID
	go func() {
		err := c.saveTurn(sessionID, rec)
		c.post(turnSaved{tok: tok, err: err})
	}()
}

func (c *Controller) saveTurn(sessionID string, t domain.Turn) error {
	var err error
	for attempt := 1; attempt <= c.cfg.SaveAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SaveTimeout)
		err = c.deps.Sessions.SaveTurn(ctx, sessionID, t)
		cancel()
		if attempt > 1 && errors.Is(err, domain.ErrTurnExists) {
			// An earlier attempt committed before reporting its error.
			return nil
		}
		if err == nil || c.ctx.Err() != nil {
			return err
		}
		c.logger.Printf("interview %s: save turn %d attempt %d failed: %v", sessionID, t.Index, attempt, err)
		c.sleep(time.Duration(attempt) * c.cfg.RetryBackoff)
	}
	return err
}

func (c *Controller) onTurnSaved(e turnSaved) {
	t := c.turn
	if t == nil || t.token != e.tok || c.state != StateProcessing {
		return
	}
	if e.err != nil {
		c.emit(Event{Type: EventError, Index: t.index, Err: fmt.Errorf("%w: %v", ErrSaveFailed, e.err)})
	}
	if t.index < c.session.QuestionCount {
		c.requestQuestion(t.index + 1)
		return
	}
	c.beginFinalizing()
}

func (c *Controller) beginFinalizing() {
	c.setState(StateFinalizing)
	if c.deps.Metrics != nil {
		c.metrics = c.deps.Metrics.BehavioralMetrics()
	}
	c.releaseDevices()
	c.runAnalysis()
}

func (c *Controller) runAnalysis() {
	c.analysisSeq++
	seq := c.analysisSeq
	sessionID := c.session.ID
	turns := append([]domain.Turn(nil), c.turns...)
	skipped, metrics := c.skipped, c.metrics
	go func() {
		res, err := c.analyze(sessionID, turns, skipped, metrics)
		c.post(analyzed{seq: seq, res: res, err: err})
	}()
}

func (c *Controller) analyze(sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error) {
	var (
		res *domain.AnalysisResult
		err error
	)
	for attempt := 1; attempt <= c.cfg.AnalysisAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.AnalysisTimeout)
		res, err = c.deps.Analyzer.Analyze(ctx, sessionID, turns, skipped, metrics)
		cancel()
		if err == nil || c.ctx.Err() != nil {
			break
		}
		c.logger.Printf("interview %s: analysis attempt %d failed: %v", sessionID, attempt, err)
		c.sleep(time.Duration(attempt) * c.cfg.RetryBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	for attempt := 1; attempt <= c.cfg.SaveAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SaveTimeout)
		err = c.deps.Sessions.MarkComplete(ctx, sessionID)
		cancel()
		if err == nil {
			return res, nil
		}
		if c.ctx.Err() != nil {
			break
		}
		c.sleep(time.Duration(attempt) * c.cfg.RetryBackoff)
	}
	return nil, fmt.Errorf("%w: mark complete: %v", ErrAnalysisFailed, err)
}

func (c *Controller) onAnalyzed(e analyzed) {
	if e.seq != c.analysisSeq || c.state != StateFinalizing {
		return
	}
	if e.err != nil {
		c.logger.Printf("interview %s: %v", c.session.ID, e.err)
		c.lastErr = e.err
		c.setState(StateComplete)
		c.emit(Event{Type: EventError, Err: e.err, Retryable: true})
		return
	}
	now := time.Now().UTC()
	c.result = e.res
	c.session.Status = domain.StatusCompleted
	c.session.CompletedAt = &now
	c.setState(StateComplete)
	c.emit(Event{Type: EventResult, Result: e.res})
	c.finished = true
}

func (c *Controller) acquireDevices() error {
	if c.deps.Devices == nil || c.acquired.Load() {
		return nil
	}
	if err := c.deps.Devices.Acquire(c.ctx); err != nil {
		return err
	}
	c.acquired.Store(true)
	if c.ctx.Err() != nil {
		c.releaseDevices()
	}
	return nil
}

func (c *Controller) releaseDevices() {
	if c.deps.Devices == nil || !c.acquired.Load() {
		return
	}
	c.releaseOnce.Do(c.deps.Devices.Release)
}

func (c *Controller) shutdown() {
	c.stopSilence()
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
	if !c.finished {
		_ = c.deps.Synth.Cancel()
		_ = c.deps.Capture.Stop()
	}
	c.releaseDevices()
	c.cancel()
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(Event{Type: EventState})
}

func (c *Controller) emit(ev Event) {
	ev.State = c.state
	ev.SessionID = c.session.ID
	ev.At = time.Now().UTC()
	if c.deps.Observer != nil {
		c.deps.Observer(ev)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.snap = Snapshot{
		State:   c.state,
		Session: c.session,
		Turns:   append([]domain.Turn(nil), c.turns...),
		Skipped: c.skipped,
		Err:     c.lastErr,
		Result:  c.result,
	}
	c.mu.Unlock()
}

func (c *Controller) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.ctx.Done():
	}
}

type turnSink struct {
	c   *Controller
	tok TurnToken
}

func (s turnSink) Transcript(text string) { s.c.post(transcriptEv{tok: s.tok, text: text}) }

func (s turnSink) SpeechDetected(active bool) { s.c.post(speechEv{active: active}) }

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IsTerminal reports whether err ends the interview for good.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInterviewEnded) || errors.Is(err, ErrPermissionDenied)
}

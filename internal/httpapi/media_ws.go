package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"

	"github.com/hiremind/interview/internal/analysis"
	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/eventlog"
	"github.com/hiremind/interview/internal/interview"
	"github.com/hiremind/interview/internal/llm"
	"github.com/hiremind/interview/internal/questions"
	"github.com/hiremind/interview/internal/stt"
	"github.com/hiremind/interview/internal/tts"
	"github.com/hiremind/interview/internal/turndetect"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout  = 10 * time.Second
	wsMaxMessage    = 1 << 20
	wsOutboundQueue = 256
)

var errSendQueueFull = errors.New("outbound queue full")

// clientMessage is a JSON message from the browser.
type clientMessage struct {
	Type        string                    `json:"type"`
	Permissions *interview.Permissions    `json:"permissions,omitempty"`
	Setup       *setupMessage             `json:"setup,omitempty"`
	Active      bool                      `json:"active,omitempty"`
	Text        string                    `json:"text,omitempty"`
	Metrics     *domain.BehavioralMetrics `json:"metrics,omitempty"`
}

type setupMessage struct {
	Topic           string           `json:"topic"`
	Difficulty      string           `json:"difficulty"`
	DurationMinutes int              `json:"durationMinutes"`
	Scenario        *domain.Scenario `json:"scenario,omitempty"`
}

// serverMessage is a JSON message to the browser. Controller events keep
// their type names; playback and device commands add their own.
type serverMessage struct {
	Type      string                 `json:"type"`
	State     interview.State        `json:"state,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Index     int                    `json:"index,omitempty"`
	Total     int                    `json:"total,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Estimate  *domain.TurnEstimate   `json:"estimate,omitempty"`
	Cause     string                 `json:"cause,omitempty"`
	Turn      *domain.Turn           `json:"turn,omitempty"`
	Result    *domain.AnalysisResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Terminal  bool                   `json:"terminal,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Audio     string                 `json:"audio,omitempty"` // base64
	Format    string                 `json:"format,omitempty"`
	Seq       int                    `json:"seq,omitempty"` // absent means 0
	Last      bool                   `json:"last,omitempty"`
}

// liveSession connects one browser to one interview controller.
type liveSession struct {
	r      *Router
	user   *AuthUser
	logger *log.Logger

	conn *websocket.Conn
	out  chan serverMessage

	ctrl    *interview.Controller
	player  *tts.Player
	capture audioCapture
	browser *browserCapture
	metrics *clientMetrics

	usage     *llm.Usage
	ttsChars  atomic.Int64
	started   time.Time
	sessionID atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc
}

// audioCapture is a speech capture that may also accept raw audio.
type audioCapture interface {
	interview.Capture
	Feed(ctx context.Context, audio []byte) error
	Seconds() float64
}

func (r *Router) handleLiveInterview(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.live.IsDraining() {
		http.Error(w, `{"error": "server is restarting"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("live_ws: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(wsMaxMessage)

	s := r.newLiveSession(req.Context(), user, conn)
	if !r.live.Add(s) {
		s.cancel()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server is restarting"))
		_ = conn.Close()
		return
	}
	defer r.live.Done(s)

	r.logger.Printf("live_ws: connection established for user %s", user.ID)
	s.run()
}

func (r *Router) newLiveSession(parent context.Context, user *AuthUser, conn *websocket.Conn) *liveSession {
	ctx, cancel := context.WithCancel(parent)
	s := &liveSession{
		r:       r,
		user:    user,
		logger:  r.logger,
		conn:    conn,
		out:     make(chan serverMessage, wsOutboundQueue),
		metrics: &clientMetrics{},
		usage:   &llm.Usage{},
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.sessionID.Store("")

	s.player = tts.NewPlayer(r.tts, wsOutput{s}, r.logger)
	s.player.OnSynthesized = func(chars int) { s.ttsChars.Add(int64(chars)) }

	if r.stt != nil {
		s.capture = stt.NewCapture(r.stt, r.logger)
	} else {
		s.browser = &browserCapture{s: s}
		s.capture = s.browser
	}

	s.ctrl = interview.NewController(r.cfg.Interview, interview.Deps{
		Sessions:   r.store,
		Questions:  meteredQuestions{svc: r.questions, usage: s.usage},
		Analyzer:   meteredAnalysis{svc: r.analysis, usage: s.usage},
		Classifier: meteredClassifier{c: r.classifier, usage: s.usage},
		Synth:      s.player,
		Capture:    s.capture,
		Devices:    browserDevices{s: s},
		Metrics:    s.metrics,
		Observer:   s.observe,
		Logger:     r.logger,
	})
	return s
}

// End stops the interview. Used when the server drains.
func (s *liveSession) End() {
	s.ctrl.End()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is restarting"),
		time.Now().Add(time.Second))
}

func (s *liveSession) run() {
	defer s.cleanup()

	go s.writeLoop()
	go func() {
		if err := s.ctrl.Run(s.ctx); err != nil && !errors.Is(err, interview.ErrInterviewEnded) && !errors.Is(err, context.Canceled) {
			s.logger.Printf("live_ws: controller stopped: %v", err)
		}
	}()

	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("live_ws: connection closed for interview %s", s.id())
			} else if s.ctx.Err() == nil {
				s.logger.Printf("live_ws: read error for interview %s: %v", s.id(), err)
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if err := s.capture.Feed(s.ctx, msg); err != nil {
				s.logger.Printf("live_ws: audio error: %v", err)
			}
			continue
		}

		var cm clientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			s.logger.Printf("live_ws: failed to parse message: %v", err)
			continue
		}
		if done := s.handleMessage(cm); done {
			return
		}
	}
}

// handleMessage dispatches one client message. It returns true when the
// client asked to end the interview.
func (s *liveSession) handleMessage(cm clientMessage) bool {
	switch cm.Type {
	case "begin":
		if cm.Permissions == nil {
			s.commandError(cm.Type, errors.New("permissions are required"))
			return false
		}
		s.commandError(cm.Type, s.ctrl.Begin(*cm.Permissions))

	case "setup":
		if cm.Setup == nil || cm.Setup.DurationMinutes <= 0 {
			s.commandError(cm.Type, errors.New("setup with a positive durationMinutes is required"))
			return false
		}
		s.commandError(cm.Type, s.ctrl.Setup(interview.SetupParams{
			UserID:          s.user.ID,
			Topic:           cm.Setup.Topic,
			Difficulty:      domain.ParseDifficulty(cm.Setup.Difficulty),
			DurationMinutes: cm.Setup.DurationMinutes,
			Scenario:        normalizeScenario(cm.Setup.Scenario),
		}))

	case "voice_activity":
		s.ctrl.SpeechDetected(cm.Active)

	case "transcript":
		if s.browser != nil {
			s.browser.transcript(cm.Text)
		}

	case "playback_done":
		s.player.PlaybackDone()

	case "skip":
		s.ctrl.Skip()

	case "retry_analysis":
		s.commandError(cm.Type, s.ctrl.RetryAnalysis())

	case "metrics":
		if cm.Metrics != nil {
			s.metrics.set(*cm.Metrics)
		}

	case "end":
		s.logger.Printf("live_ws: interview %s ended by candidate", s.id())
		s.ctrl.End()
		return true

	default:
		s.logger.Printf("live_ws: unknown message type %q", cm.Type)
	}
	return false
}

// commandError reports a rejected command. Permission problems are already
// reported by the controller as error events.
func (s *liveSession) commandError(command string, err error) {
	if err == nil || errors.Is(err, interview.ErrPermissionDenied) || errors.Is(err, interview.ErrPermissionPending) {
		return
	}
	_ = s.send(serverMessage{
		Type:     string(interview.EventError),
		Command:  command,
		Error:    err.Error(),
		Terminal: interview.IsTerminal(err),
	})
}

// observe runs on the controller goroutine and must not block.
func (s *liveSession) observe(ev interview.Event) {
	if ev.SessionID != "" {
		s.sessionID.Store(ev.SessionID)
	}

	msg := serverMessage{
		Type:      string(ev.Type),
		State:     ev.State,
		SessionID: ev.SessionID,
		Index:     ev.Index,
		Total:     ev.Total,
		Text:      ev.Text,
		Estimate:  ev.Estimate,
		Cause:     string(ev.Cause),
		Turn:      ev.Turn,
		Result:    ev.Result,
		Retryable: ev.Retryable,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
		msg.Terminal = interview.IsTerminal(ev.Err)
	}
	if err := s.send(msg); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("live_ws: dropped %s event: %v", ev.Type, err)
	}

	s.record(ev)
}

// record writes the interview's event log and runs completion side effects.
func (s *liveSession) record(ev interview.Event) {
	el := s.r.eventLog
	switch ev.Type {
	case interview.EventQuestion:
		if ev.Index == 1 {
			el.LogAsync(ev.SessionID, eventlog.EventInterviewStarted, map[string]any{
				"question_count": ev.Total,
				"source":         "live",
			})
		}
		el.LogAsync(ev.SessionID, eventlog.EventQuestionAsked, map[string]any{
			"index":    ev.Index,
			"question": ev.Text,
		})

	case interview.EventEstimate:
		if ev.Estimate != nil {
			el.LogAsync(ev.SessionID, eventlog.EventTurnEstimate, map[string]any{
				"index":       ev.Index,
				"is_complete": ev.Estimate.IsComplete,
				"confidence":  ev.Estimate.Confidence,
			})
		}

	case interview.EventBargeIn:
		el.LogAsync(ev.SessionID, eventlog.EventBargeIn, map[string]any{"index": ev.Index})

	case interview.EventTurnFinalized:
		el.LogAsync(ev.SessionID, eventlog.EventTurnFinalized, map[string]any{
			"index": ev.Index,
			"cause": ev.Cause,
		})

	case interview.EventError:
		switch {
		case errors.Is(ev.Err, interview.ErrSaveFailed):
			el.LogAsync(ev.SessionID, eventlog.EventSaveFailed, map[string]any{
				"index": ev.Index,
				"error": ev.Err.Error(),
			})
		case errors.Is(ev.Err, interview.ErrAnalysisFailed):
			el.LogAsync(ev.SessionID, eventlog.EventAnalysisFailed, map[string]any{"error": ev.Err.Error()})
			s.r.discord.NotifyAnalysisFailed(s.ctx, ev.SessionID, s.user.ID, ev.Err)
			captureLiveError(ev.SessionID, ev.Err)
		}

	case interview.EventResult:
		el.LogAsync(ev.SessionID, eventlog.EventAnalysisDone, map[string]any{
			"overall_score": ev.Result.OverallScore,
			"skipped":       ev.Result.SkippedCount,
		})
		go s.complete(ev.Result)
	}
}

// complete records costs and notifies the candidate's devices.
func (s *liveSession) complete(res *domain.AnalysisResult) {
	sess := s.ctrl.Snapshot().Session
	if sess.ID == "" {
		sess.ID = s.id()
	}
	if sess.UserID == "" {
		sess.UserID = s.user.ID
	}
	s.r.recordCosts(s.ctx, sess.ID, s.costMetrics())
	s.r.notifyReport(s.ctx, sess, res)
}

func (s *liveSession) costMetrics() costs.Metrics {
	return costs.Metrics{
		DurationSeconds:    int(time.Since(s.started).Seconds()),
		STTDurationSeconds: int(s.capture.Seconds()),
		LLMInputTokens:     int(s.usage.InputTokens.Load()),
		LLMOutputTokens:    int(s.usage.OutputTokens.Load()),
		TTSCharacters:      int(s.ttsChars.Load()),
	}
}

func (s *liveSession) id() string {
	id, _ := s.sessionID.Load().(string)
	return id
}

func (s *liveSession) send(msg serverMessage) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	select {
	case s.out <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

func (s *liveSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Printf("live_ws: write failed for interview %s: %v", s.id(), err)
				s.cancel()
				return
			}
		}
	}
}

func (s *liveSession) cleanup() {
	s.ctrl.End()
	<-s.ctrl.Done()
	s.cancel()
	_ = s.conn.Close()

	if id := s.id(); id != "" {
		snap := s.ctrl.Snapshot()
		s.r.eventLog.LogAsync(id, eventlog.EventInterviewEnded, map[string]any{
			"state":    snap.State,
			"turns":    len(snap.Turns),
			"skipped":  snap.Skipped,
			"duration": int(time.Since(s.started).Seconds()),
		})
	}
	s.logger.Printf("live_ws: session cleaned up for interview %s", s.id())
}

func captureLiveError(sessionID string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("interview_id", sessionID)
		sentry.CaptureException(err)
	})
}

// ============================================================================
// Browser-side collaborators of the controller
// ============================================================================

// wsOutput plays synthesized audio in the browser.
type wsOutput struct{ s *liveSession }

func (o wsOutput) PlayAudio(audio []byte, format string) error {
	return o.s.send(serverMessage{
		Type:   "play_audio",
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: format,
	})
}

// PlayAudioChunk streams part of a clip; the browser appends chunks by seq
// and reports playback_done after the one marked last.
func (o wsOutput) PlayAudioChunk(chunk []byte, format string, seq int, last bool) error {
	return o.s.send(serverMessage{
		Type:   "play_audio_chunk",
		Audio:  base64.StdEncoding.EncodeToString(chunk),
		Format: format,
		Seq:    seq,
		Last:   last,
	})
}

func (o wsOutput) SpeakLocal(text string) error {
	return o.s.send(serverMessage{Type: "speak_local", Text: text})
}

func (o wsOutput) StopAudio() error {
	return o.s.send(serverMessage{Type: "stop_audio"})
}

// browserDevices asks the browser to open and close camera and microphone.
type browserDevices struct{ s *liveSession }

func (d browserDevices) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.s.send(serverMessage{Type: "acquire_devices"}); err != nil {
		return fmt.Errorf("acquire devices: %w", err)
	}
	return nil
}

func (d browserDevices) Release() {
	_ = d.s.send(serverMessage{Type: "release_devices"})
}

// browserCapture relies on the browser's own speech recognition: the client
// is told when to listen and sends transcript messages back.
type browserCapture struct {
	s *liveSession

	mu      sync.Mutex
	sink    interview.CaptureSink
	started time.Time
	total   time.Duration
}

func (b *browserCapture) Start(_ context.Context, sink interview.CaptureSink) error {
	b.mu.Lock()
	if b.sink != nil {
		b.mu.Unlock()
		return errors.New("capture already running")
	}
	b.sink = sink
	b.started = time.Now()
	b.mu.Unlock()
	return b.s.send(serverMessage{Type: "start_capture"})
}

func (b *browserCapture) Stop() error {
	b.mu.Lock()
	running := b.sink != nil
	if running {
		b.total += time.Since(b.started)
	}
	b.sink = nil
	b.mu.Unlock()
	if !running {
		return nil
	}
	return b.s.send(serverMessage{Type: "stop_capture"})
}

func (b *browserCapture) transcript(text string) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.Transcript(text)
	}
}

// Feed drops audio. Recognition happens in the browser.
func (b *browserCapture) Feed(context.Context, []byte) error { return nil }

// Seconds is zero: browser recognition is free.
func (b *browserCapture) Seconds() float64 { return 0 }

// clientMetrics holds the latest face metrics reported by the browser.
type clientMetrics struct {
	mu sync.Mutex
	m  *domain.BehavioralMetrics
}

func (c *clientMetrics) set(m domain.BehavioralMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = &m
}

func (c *clientMetrics) BehavioralMetrics() *domain.BehavioralMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		return nil
	}
	m := *c.m
	return &m
}

// ============================================================================
// Usage metering
// The controller owns its contexts, so usage is attached per call.
// ============================================================================

type meteredQuestions struct {
	svc   *questions.Service
	usage *llm.Usage
}

func (m meteredQuestions) Next(ctx context.Context, req domain.QuestionRequest) (string, error) {
	return m.svc.Next(llm.WithUsage(ctx, m.usage), req)
}

type meteredAnalysis struct {
	svc   *analysis.Service
	usage *llm.Usage
}

func (m meteredAnalysis) Analyze(ctx context.Context, sessionID string, turns []domain.Turn, skipped int, metrics *domain.BehavioralMetrics) (*domain.AnalysisResult, error) {
	return m.svc.Analyze(llm.WithUsage(ctx, m.usage), sessionID, turns, skipped, metrics)
}

type meteredClassifier struct {
	c     *turndetect.Classifier
	usage *llm.Usage
}

func (m meteredClassifier) Classify(ctx context.Context, transcript, question string) (domain.TurnEstimate, error) {
	return m.c.Classify(llm.WithUsage(ctx, m.usage), transcript, question)
}

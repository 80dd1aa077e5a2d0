package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hiremind/interview/internal/costs"
	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/eventlog"
	"github.com/hiremind/interview/internal/interview"
	"github.com/hiremind/interview/internal/llm"
	"github.com/hiremind/interview/internal/store"
)

// ============================================================================
// Interview REST handlers
// Used by clients that drive the conversation themselves. The live websocket
// runs the same steps server side.
// ============================================================================

type createInterviewBody struct {
	Topic           string           `json:"topic"`
	Difficulty      string           `json:"difficulty"`
	DurationMinutes int              `json:"durationMinutes"`
	Scenario        *domain.Scenario `json:"scenario,omitempty"`
}

// handleCreateInterview creates a session and reports how many questions it has
func (r *Router) handleCreateInterview(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body createInterviewBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.DurationMinutes <= 0 {
		http.Error(w, `{"error": "durationMinutes must be positive"}`, http.StatusBadRequest)
		return
	}

	sess := domain.Session{
		UserID:        user.ID,
		Topic:         normalizeTopic(body.Topic),
		Difficulty:    domain.ParseDifficulty(body.Difficulty),
		QuestionCount: interview.QuestionCount(body.DurationMinutes),
		Status:        domain.StatusInProgress,
		Scenario:      normalizeScenario(body.Scenario),
		CreatedAt:     nowUTC(),
	}

	id, err := r.store.CreateSession(req.Context(), sess)
	if err != nil {
		r.logger.Printf("interviews: failed to create session for %s: %v", user.ID, err)
		captureError(req, err, "interviews: create session")
		http.Error(w, `{"error": "failed to create interview"}`, http.StatusInternalServerError)
		return
	}
	sess.ID = id

	r.eventLog.LogAsync(id, eventlog.EventInterviewStarted, map[string]any{
		"topic":          sess.Topic,
		"difficulty":     sess.Difficulty,
		"question_count": sess.QuestionCount,
		"source":         "rest",
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"session":       sess,
		"questionCount": sess.QuestionCount,
	})
}

// handleNextQuestion generates the next question for a session
func (r *Router) handleNextQuestion(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.ownedSession(w, req)
	if !ok {
		return
	}

	var body struct {
		Number int `json:"number"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}
	}

	turns, err := r.store.GetTurns(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("interviews: failed to load turns for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load conversation"}`, http.StatusInternalServerError)
		return
	}

	number := body.Number
	if number <= 0 {
		number = len(turns) + 1
	}
	if number > sess.QuestionCount {
		http.Error(w, `{"error": "all questions have been asked"}`, http.StatusConflict)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.questionBudget())
	defer cancel()

	question := r.questions.Ask(ctx, domain.QuestionRequest{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Topic:      sess.Topic,
		Difficulty: sess.Difficulty,
		Number:     number,
		Total:      sess.QuestionCount,
		History:    turns,
		Scenario:   sess.Scenario,
	}, r.questionAttempts())

	r.eventLog.LogAsync(sess.ID, eventlog.EventQuestionAsked, map[string]any{
		"index":    number,
		"question": question,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"question": question,
		"number":   number,
		"total":    sess.QuestionCount,
	})
}

type saveTurnBody struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Skipped  bool   `json:"skipped"`
}

// handleSaveTurn stores one question and answer
func (r *Router) handleSaveTurn(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.ownedSession(w, req)
	if !ok {
		return
	}
	if sess.Status == domain.StatusCompleted {
		http.Error(w, `{"error": "interview already completed"}`, http.StatusConflict)
		return
	}

	var body saveTurnBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Index < 1 {
		http.Error(w, `{"error": "index must be at least 1"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		http.Error(w, `{"error": "question is required"}`, http.StatusBadRequest)
		return
	}

	answer := strings.TrimSpace(body.Answer)
	if body.Skipped {
		answer = domain.SkippedAnswer
	}
	turn := domain.Turn{
		Index:    body.Index,
		Question: body.Question,
		Answer:   answer,
		Skipped:  body.Skipped,
		At:       nowUTC(),
	}

	err := r.store.SaveTurn(req.Context(), sess.ID, turn)
	switch {
	case errors.Is(err, store.ErrTurnExists):
		http.Error(w, `{"error": "turn already saved"}`, http.StatusConflict)
		return
	case errors.Is(err, store.ErrTurnOutOfRange):
		http.Error(w, `{"error": "turn index outside the interview"}`, http.StatusBadRequest)
		return
	case err != nil:
		r.logger.Printf("interviews: failed to save turn %d for %s: %v", body.Index, sess.ID, err)
		captureError(req, err, "interviews: save turn")
		http.Error(w, `{"error": "failed to save turn"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(sess.ID, eventlog.EventTurnFinalized, map[string]any{
		"index":   turn.Index,
		"skipped": turn.Skipped,
		"cause":   "client",
	})

	writeJSON(w, http.StatusCreated, map[string]any{"turn": turn})
}

// handleAnalyze scores a finished interview and marks it complete
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.ownedSession(w, req)
	if !ok {
		return
	}

	var body struct {
		Metrics *domain.BehavioralMetrics `json:"metrics,omitempty"`
	}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}
	}

	// Analysis is idempotent once a session is complete.
	if sess.Status == domain.StatusCompleted {
		if res, err := r.store.GetResult(req.Context(), sess.ID); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"result": res})
			return
		}
	}

	turns, err := r.store.GetTurns(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("interviews: failed to load turns for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load conversation"}`, http.StatusInternalServerError)
		return
	}

	started := time.Now()
	usage := &llm.Usage{}
	ctx := llm.WithUsage(req.Context(), usage)
	res, err := r.analysis.Analyze(ctx, sess.ID, turns, domain.CountSkipped(turns), body.Metrics)
	if err == nil {
		err = r.store.MarkComplete(req.Context(), sess.ID)
	}
	if err != nil {
		r.logger.Printf("interviews: analysis failed for %s: %v", sess.ID, err)
		captureError(req, err, "interviews: analysis")
		r.discord.NotifyAnalysisFailed(req.Context(), sess.ID, sess.UserID, err)
		r.eventLog.LogAsync(sess.ID, eventlog.EventAnalysisFailed, map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "analysis failed",
			"retryable": true,
		})
		return
	}

	r.eventLog.LogAsync(sess.ID, eventlog.EventAnalysisDone, map[string]any{
		"overall_score": res.OverallScore,
		"skipped":       res.SkippedCount,
		"duration_ms":   time.Since(started).Milliseconds(),
	})
	r.recordCosts(req.Context(), sess.ID, costs.Metrics{
		DurationSeconds: int(time.Since(sess.CreatedAt).Seconds()),
		LLMInputTokens:  int(usage.InputTokens.Load()),
		LLMOutputTokens: int(usage.OutputTokens.Load()),
	})
	r.notifyReport(req.Context(), *sess, res)

	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// handleGetResults returns the stored analysis of a session
func (r *Router) handleGetResults(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.ownedSession(w, req)
	if !ok {
		return
	}

	res, err := r.store.GetResult(req.Context(), sess.ID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "results not available"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Printf("interviews: failed to load result for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load results"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"result":  res,
	})
}

// handleGetConversation returns the turns of a session with model answers.
// Query params: ?answers=false skips the model answers.
func (r *Router) handleGetConversation(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.ownedSession(w, req)
	if !ok {
		return
	}

	turns, err := r.store.GetTurns(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("interviews: failed to load turns for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load conversation"}`, http.StatusInternalServerError)
		return
	}

	probable := []domain.ProbableAnswer{}
	if req.URL.Query().Get("answers") != "false" {
		probable = r.analysis.ProbableAnswers(req.Context(), turns)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":         sess,
		"turns":           turns,
		"probableAnswers": probable,
	})
}

// ownedSession loads the {id} session and checks that it belongs to the
// caller. Sessions of other users are reported as missing.
func (r *Router) ownedSession(w http.ResponseWriter, req *http.Request) (*domain.Session, bool) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}

	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing interview ID"}`, http.StatusBadRequest)
		return nil, false
	}

	sess, err := r.store.GetSession(req.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Printf("interviews: failed to load session %s: %v", id, err)
		http.Error(w, `{"error": "failed to load interview"}`, http.StatusInternalServerError)
		return nil, false
	}
	if err != nil || sess.UserID != user.ID {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (r *Router) questionAttempts() int {
	if n := r.cfg.Interview.QuestionAttempts; n > 0 {
		return n
	}
	return interview.DefaultConfig().QuestionAttempts
}

func (r *Router) questionBudget() time.Duration {
	timeout := r.cfg.Interview.QuestionTimeout
	if timeout <= 0 {
		timeout = interview.DefaultConfig().QuestionTimeout
	}
	return time.Duration(r.questionAttempts()) * timeout
}

func (r *Router) recordCosts(ctx context.Context, sessionID string, m costs.Metrics) {
	c := costs.Calculate(m)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.RecordInterviewCosts(ctx, sessionID, m, c); err != nil {
		r.logger.Printf("interviews: failed to record costs for %s: %v", sessionID, err)
	}
	r.eventLog.LogAsync(sessionID, eventlog.EventInterviewCosts, map[string]any{
		"stt_seconds":   m.STTDurationSeconds,
		"llm_input":     m.LLMInputTokens,
		"llm_output":    m.LLMOutputTokens,
		"tts_chars":     m.TTSCharacters,
		"total_cents":   c.TotalCostCents,
		"duration_secs": m.DurationSeconds,
	})
}

// notifyReport pushes the report-ready notification without holding up the
// response.
func (r *Router) notifyReport(ctx context.Context, sess domain.Session, res *domain.AnalysisResult) {
	if r.reports == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		r.reports.ReportReady(ctx, sess, res)
	}()
}

func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "general"
	}
	return topic
}

func normalizeScenario(s *domain.Scenario) *domain.Scenario {
	if s == nil || strings.TrimSpace(s.Description) == "" {
		return nil
	}
	return s
}

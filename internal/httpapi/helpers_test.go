package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hiremind/interview/internal/analysis"
	"github.com/hiremind/interview/internal/catalog"
	"github.com/hiremind/interview/internal/interview"
	"github.com/hiremind/interview/internal/llm"
	"github.com/hiremind/interview/internal/questions"
	"github.com/hiremind/interview/internal/store"
	"github.com/hiremind/interview/internal/tts"
	"github.com/hiremind/interview/internal/turndetect"
)

const testJWTSecret = "test-secret"

// fakeLLM answers every model call with canned data.
type fakeLLM struct {
	mu           sync.Mutex
	question     string
	scores       llm.Scores
	analyzeErr   error
	analyzeCalls int
	verdict      llm.TurnVerdict
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		question: "Tell me about a project you are proud of.",
		scores: llm.Scores{
			OverallScore:        80,
			CommunicationScore:  75,
			TechnicalScore:      70,
			ProblemSolvingScore: 85,
			ConfidenceScore:     90,
			Strengths:           []string{"Clear structure"},
			Improvements:        []string{"More detail"},
			DetailedFeedback:    "Solid answers.",
		},
		verdict: llm.TurnVerdict{IsComplete: true, Confidence: 0.9, Reasoning: "finished thought"},
	}
}

func (f *fakeLLM) GenerateQuestion(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.question, nil
}

func (f *fakeLLM) AnalyzeInterview(ctx context.Context, interviewType string, answers []llm.QA) (*llm.Scores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	s := f.scores
	return &s, nil
}

func (f *fakeLLM) ProbableAnswers(ctx context.Context, qs []llm.QA) ([]llm.ModelAnswer, error) {
	out := make([]llm.ModelAnswer, 0, len(qs))
	for _, q := range qs {
		out = append(out, llm.ModelAnswer{QuestionNumber: q.Number, ProbableAnswer: "A model answer."})
	}
	return out, nil
}

func (f *fakeLLM) ClassifyTurn(ctx context.Context, transcript, question string) (*llm.TurnVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.verdict
	return &v, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzeCalls
}

// fakeTTS synthesizes a fixed clip and counts calls.
type fakeTTS struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

func (f *fakeTTS) Format() string { return "audio/mpeg" }

type testEnv struct {
	t       *testing.T
	handler http.Handler
	store   *store.SQLite
	llm     *fakeLLM
	live    *LiveRegistry
}

type envOption func(*RouterConfig, *Deps)

func withTTS(c tts.Client) envOption {
	return func(_ *RouterConfig, d *Deps) { d.TTS = c }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "interview.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	fake := newFakeLLM()
	live := NewLiveRegistry()

	icfg := interview.DefaultConfig()
	icfg.ListenDelay = 10 * time.Millisecond
	icfg.RetryBackoff = time.Millisecond

	cfg := RouterConfig{
		JWTSecret: testJWTSecret,
		JWTExpiry: time.Hour,
		Interview: icfg,
	}
	deps := Deps{
		Store:      db,
		Questions:  questions.NewService(fake, db, cat, logger),
		Analysis:   analysis.NewService(fake, db, logger),
		Classifier: turndetect.New(fake, time.Second, logger),
		Live:       live,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	return &testEnv{
		t:       t,
		handler: NewRouter(cfg, logger, deps),
		store:   db,
		llm:     fake,
		live:    live,
	}
}

// do sends a request through the full router. body may be nil, a string, or
// a value encoded as JSON.
func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// guest signs in a new guest and returns the token and user ID.
func (e *testEnv) guest(name string) (string, string) {
	e.t.Helper()

	rec := e.do(http.MethodPost, "/auth/guest", "", map[string]string{"name": name})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("guest login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string     `json:"token"`
		User  store.User `json:"user"`
	}
	decodeBody(e.t, rec, &resp)
	if resp.Token == "" || resp.User.ID == "" {
		e.t.Fatalf("guest login returned %+v", resp)
	}
	return resp.Token, resp.User.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// withUser returns a request carrying an authenticated user, for calling
// handlers directly.
func withUser(req *http.Request, id string) *http.Request {
	ctx := context.WithValue(req.Context(), userContextKey, &AuthUser{ID: id})
	return req.WithContext(ctx)
}

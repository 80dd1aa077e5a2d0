package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hiremind/interview/internal/analysis"
	"github.com/hiremind/interview/internal/eventlog"
	"github.com/hiremind/interview/internal/interview"
	"github.com/hiremind/interview/internal/notifications"
	"github.com/hiremind/interview/internal/questions"
	"github.com/hiremind/interview/internal/store"
	"github.com/hiremind/interview/internal/stt"
	"github.com/hiremind/interview/internal/tts"
	"github.com/hiremind/interview/internal/turndetect"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Turn-taking and retry settings for live interviews
	Interview interview.Config

	// Voices offered to the client; the first one is the default
	Voices []Voice
}

// Deps are the services behind the HTTP surface. TTS, STT, Discord and
// Reports may be nil when the provider is not configured.
type Deps struct {
	Store      store.Repository
	EventLog   *eventlog.Logger
	Questions  *questions.Service
	Analysis   *analysis.Service
	Classifier *turndetect.Classifier
	TTS        tts.Client
	STT        stt.Dialer
	Discord    *notifications.Discord
	Reports    *notifications.ReportNotifier
	Live       *LiveRegistry
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	store      store.Repository
	eventLog   *eventlog.Logger
	questions  *questions.Service
	analysis   *analysis.Service
	classifier *turndetect.Classifier
	tts        tts.Client
	stt        stt.Dialer
	discord    *notifications.Discord
	reports    *notifications.ReportNotifier
	live       *LiveRegistry
	ttsCache   *audioCache
	mux        *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, deps Deps) http.Handler {
	if len(cfg.Voices) == 0 {
		cfg.Voices = curatedVoices
	}
	if deps.Live == nil {
		deps.Live = NewLiveRegistry()
	}

	r := &Router{
		cfg:        cfg,
		logger:     logger,
		store:      deps.Store,
		eventLog:   deps.EventLog,
		questions:  deps.Questions,
		analysis:   deps.Analysis,
		classifier: deps.Classifier,
		tts:        deps.TTS,
		stt:        deps.STT,
		discord:    deps.Discord,
		reports:    deps.Reports,
		live:       deps.Live,
		ttsCache:   newAudioCache(),
		mux:        http.NewServeMux(),
	}

	r.routes()
	return middleware.RequestID(middleware.RealIP(withSentryRecovery(withCORS(r.mux))))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth endpoints (public)
	r.mux.HandleFunc("POST /auth/guest", r.handleGuestLogin)
	r.mux.HandleFunc("POST /auth/refresh", r.handleRefreshToken)
	r.mux.HandleFunc("POST /auth/logout", r.withAuth(r.handleLogout))

	// Profile (protected)
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))
	r.mux.HandleFunc("PATCH /api/me", r.withAuth(r.handleUpdateMe))

	// Interviews (protected)
	r.mux.HandleFunc("POST /api/interviews", r.withAuth(r.handleCreateInterview))
	r.mux.HandleFunc("POST /api/interviews/{id}/question", r.withAuth(r.handleNextQuestion))
	r.mux.HandleFunc("POST /api/interviews/{id}/turns", r.withAuth(r.handleSaveTurn))
	r.mux.HandleFunc("POST /api/interviews/{id}/analyze", r.withAuth(r.handleAnalyze))
	r.mux.HandleFunc("GET /api/interviews/{id}/results", r.withAuth(r.handleGetResults))
	r.mux.HandleFunc("GET /api/interviews/{id}/conversation", r.withAuth(r.handleGetConversation))

	// Live interview (token passed as query parameter, browsers cannot set headers on websockets)
	r.mux.HandleFunc("GET /api/interviews/live", r.withAuth(r.handleLiveInterview))

	// Speech helpers (protected)
	r.mux.HandleFunc("POST /api/turn-detection", r.withAuth(r.handleTurnDetection))
	r.mux.HandleFunc("POST /api/tts", r.withAuth(r.handleTTS))
	r.mux.HandleFunc("GET /api/voices", r.withAuth(r.handleListVoices))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handlePushUnregister))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether new interviews can be started.
func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if r.live.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.store.Ping(ctx); err != nil {
			r.logger.Printf("readyz: database ping failed: %v", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.Scope().SetTag("request_id", middleware.GetReqID(req.Context()))
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("request_id", middleware.GetReqID(req.Context()))
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

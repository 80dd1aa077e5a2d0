package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiremind/interview/internal/analysis"
	"github.com/hiremind/interview/internal/catalog"
	"github.com/hiremind/interview/internal/eventlog"
	"github.com/hiremind/interview/internal/httpapi"
	"github.com/hiremind/interview/internal/jobs"
	"github.com/hiremind/interview/internal/llm"
	"github.com/hiremind/interview/internal/notifications"
	"github.com/hiremind/interview/internal/questions"
	"github.com/hiremind/interview/internal/store"
	"github.com/hiremind/interview/internal/stt"
	"github.com/hiremind/interview/internal/tts"
	"github.com/hiremind/interview/internal/turndetect"
)

type App struct {
	cfg        Config
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
	live       *httpapi.LiveRegistry
	httpClient *http.Client // Shared HTTP client with connection pooling for TTS
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.LLMAPIKey == "" {
		return nil, errors.New("LLM_API_KEY is required")
	}

	s, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	apns, err := notifications.NewAPNsClient(cfg.APNs, logger)
	if err != nil {
		// Push is optional; reports stay reachable over HTTP.
		logger.Printf("apns disabled: %v", err)
		apns = nil
	}

	// Keeps TCP connections alive to reduce latency for repeated TTS calls to ElevenLabs.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // ElevenLabs is single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	model := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
	})

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      s,
		eventLog:   eventlog.New(s),
		questions:  questions.NewService(model, s, cat, logger),
		analysis:   analysis.NewService(model, s, logger),
		classifier: turndetect.New(model, cfg.InterviewConfig().ClassifierTimeout, logger),
		discord:    notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		reports:    notifications.NewReportNotifier(s, apns, logger),
		live:       httpapi.NewLiveRegistry(),
		httpClient: httpClient,
	}

	if cfg.ElevenLabsAPIKey != "" {
		a.tts = tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			VoiceID:    cfg.TTSVoiceID,
			Stability:  cfg.TTSStability,
			Similarity: cfg.TTSSimilarity,
			HTTPClient: httpClient,
		})
	} else {
		logger.Printf("ELEVENLABS_API_KEY not set: questions are spoken by the browser")
	}

	if cfg.DeepgramAPIKey != "" {
		a.stt = stt.DeepgramDialer(stt.DeepgramConfig{
			APIKey:         cfg.DeepgramAPIKey,
			Language:       cfg.DeepgramLanguage,
			Model:          cfg.DeepgramModel,
			Punctuate:      true,
			Endpointing:    cfg.STTEndpointingMs,
			UtteranceEndMs: cfg.STTUtteranceEndMs,
		})
	} else {
		logger.Printf("DEEPGRAM_API_KEY not set: answers are transcribed by the browser")
	}

	return a, nil
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// a local SQLite file otherwise.
func openStore(cfg Config, logger *log.Logger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not set: using SQLite at %s", cfg.DBPath)
		return store.OpenSQLite(cfg.DBPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Postgres migrations are applied externally from migrations/.
	return store.NewPostgres(db), nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
		JWTExpiry: a.cfg.JWTExpiry,
		Interview: a.cfg.InterviewConfig(),
	}
	return httpapi.NewRouter(routerCfg, a.logger, httpapi.Deps{
		Store:      a.store,
		EventLog:   a.eventLog,
		Questions:  a.questions,
		Analysis:   a.analysis,
		Classifier: a.classifier,
		TTS:        a.tts,
		STT:        a.stt,
		Discord:    a.discord,
		Reports:    a.reports,
		Live:       a.live,
	})
}

// Live returns the registry of running interviews, used for graceful shutdown.
func (a *App) Live() *httpapi.LiveRegistry {
	return a.live
}

// RecoveryJob builds the job that scores interviews stranded before analysis.
func (a *App) RecoveryJob() *jobs.AnalysisRecoveryJob {
	return jobs.NewAnalysisRecoveryJob(a.store, a.analysis, a.reports, a.discord, a.eventLog, a.logger, jobs.RecoveryConfig{
		Interval:   a.cfg.RecoveryInterval,
		StaleAfter: a.cfg.RecoveryStale,
	})
}

// Close flushes pending events and alerts, then closes the store.
func (a *App) Close() error {
	a.eventLog.Flush()
	a.discord.Wait()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

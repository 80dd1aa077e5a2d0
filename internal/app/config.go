package app

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hiremind/interview/internal/interview"
	"github.com/hiremind/interview/internal/notifications"
)

type Config struct {
	HTTPAddr    string
	Environment string

	// Storage: Postgres when DatabaseURL is set, SQLite at DBPath otherwise
	DatabaseURL string
	DBPath      string

	// Error monitoring and alerts
	SentryDSN         string
	DiscordWebhookURL string

	// AI providers
	LLMAPIKey        string
	LLMBaseURL       string
	LLMModel         string
	DeepgramAPIKey   string
	DeepgramLanguage string
	DeepgramModel    string
	ElevenLabsAPIKey string
	TTSVoiceID       string // ElevenLabs voice ID

	// STT tuning
	STTEndpointingMs  int // silence (ms) before Deepgram finalizes a phrase
	STTUtteranceEndMs int // hard cutoff after the last word

	// TTS tuning
	TTSStability  float64
	TTSSimilarity float64

	// Turn-taking
	TurnConfidenceThreshold float64
	TurnSilenceTimeout      time.Duration

	// Interview prompt catalog; empty uses the built-in one
	CatalogPath string

	// Recovery of interviews stranded before analysis
	RecoveryInterval time.Duration
	RecoveryStale    time.Duration

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Push notifications
	APNs notifications.APNsConfig
}

// LoadDotEnv loads a .env file from the working directory when one exists.
func LoadDotEnv(logger *log.Logger) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("config: could not load .env: %v", err)
	}
}

func LoadConfigFromEnv() Config {
	defaults := interview.DefaultConfig()

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Environment: getenv("ENVIRONMENT", "development"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		DBPath:      getenv("DB_PATH", "hiremind.db"),

		SentryDSN:         getenv("SENTRY_DSN", ""),
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		LLMAPIKey:        getenv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:       getenv("LLM_BASE_URL", ""),
		LLMModel:         getenv("LLM_MODEL", ""),
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		DeepgramLanguage: getenv("DEEPGRAM_LANGUAGE", "en-US"),
		DeepgramModel:    getenv("DEEPGRAM_MODEL", "nova-3"),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		TTSVoiceID:       getenv("TTS_VOICE_ID", ""),

		// Candidates pause to think; 800ms keeps mid-answer pauses in one phrase
		STTEndpointingMs:  getenvIntClamped("STT_ENDPOINTING_MS", 800, 100, 5000),
		STTUtteranceEndMs: getenvIntClamped("STT_UTTERANCE_END_MS", 1000, 1000, 5000),

		TTSStability:  getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSimilarity: getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),

		TurnConfidenceThreshold: getenvFloatClamped("TURN_CONFIDENCE_THRESHOLD", defaults.ConfidenceThreshold, 0.1, 1.0),
		TurnSilenceTimeout:      getenvDuration("TURN_SILENCE_TIMEOUT", defaults.SilenceTimeout),

		CatalogPath: getenv("CATALOG_PATH", ""),

		RecoveryInterval: getenvDuration("RECOVERY_INTERVAL", 5*time.Minute),
		RecoveryStale:    getenvDuration("RECOVERY_STALE_AFTER", 15*time.Minute),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),

		APNs: notifications.APNsConfig{
			KeyPath:    getenv("APNS_KEY_PATH", ""),
			KeyID:      getenv("APNS_KEY_ID", ""),
			TeamID:     getenv("APNS_TEAM_ID", ""),
			BundleID:   getenv("APNS_BUNDLE_ID", ""),
			Production: getenvBool("APNS_PRODUCTION", false),
		},
	}
}

// InterviewConfig returns the controller settings with the env overrides applied.
func (c Config) InterviewConfig() interview.Config {
	cfg := interview.DefaultConfig()
	if c.TurnConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = c.TurnConfidenceThreshold
	}
	if c.TurnSilenceTimeout > 0 {
		cfg.SilenceTimeout = c.TurnSilenceTimeout
	}
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

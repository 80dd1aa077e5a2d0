// Package costs turns provider usage of an interview into cents.
package costs

import (
	"os"
	"strconv"
)

// Pricing in cents per unit. Overridable via environment variables.
var (
	// DeepgramCentsPerMinute is the cost per minute of streamed audio.
	// Default: $0.0077/min = 0.77 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.77)

	// LLMCentsPerThousandInputTokens defaults to Groq llama-3.3-70b pricing.
	// Default: $0.59/1M = 0.059 cents/1K tokens
	LLMCentsPerThousandInputTokens = getEnvFloat("COST_LLM_INPUT_CENTS_PER_1K", 0.059)

	// LLMCentsPerThousandOutputTokens is the cost per 1K completion tokens.
	// Default: $0.79/1M = 0.079 cents/1K tokens
	LLMCentsPerThousandOutputTokens = getEnvFloat("COST_LLM_OUTPUT_CENTS_PER_1K", 0.079)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters of TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)
)

// Metrics is the raw provider usage of one interview.
type Metrics struct {
	DurationSeconds    int // wall clock from setup to completion
	STTDurationSeconds int // audio streamed to speech recognition
	LLMInputTokens     int
	LLMOutputTokens    int
	TTSCharacters      int
}

// Add accumulates usage from another source.
func (m *Metrics) Add(o Metrics) {
	m.DurationSeconds += o.DurationSeconds
	m.STTDurationSeconds += o.STTDurationSeconds
	m.LLMInputTokens += o.LLMInputTokens
	m.LLMOutputTokens += o.LLMOutputTokens
	m.TTSCharacters += o.TTSCharacters
}

// Costs are the calculated costs of an interview in cents.
type Costs struct {
	STTCostCents   int `json:"sttCostCents"`
	LLMCostCents   int `json:"llmCostCents"`
	TTSCostCents   int `json:"ttsCostCents"`
	TotalCostCents int `json:"totalCostCents"`
}

// Calculate computes the costs of an interview from its usage.
func Calculate(m Metrics) Costs {
	sttCents := float64(m.STTDurationSeconds) / 60.0 * DeepgramCentsPerMinute

	llmCents := (float64(m.LLMInputTokens)/1000.0)*LLMCentsPerThousandInputTokens +
		(float64(m.LLMOutputTokens)/1000.0)*LLMCentsPerThousandOutputTokens

	ttsCents := (float64(m.TTSCharacters) / 1000.0) * ElevenLabsCentsPerThousandChars

	c := Costs{
		STTCostCents: roundToInt(sttCents),
		LLMCostCents: roundToInt(llmCents),
		TTSCostCents: roundToInt(ttsCents),
	}
	c.TotalCostCents = c.STTCostCents + c.LLMCostCents + c.TTSCostCents
	return c
}

func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

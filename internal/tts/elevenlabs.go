package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient implements the Client interface using ElevenLabs' API.
type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey     string
	VoiceID    string       // ElevenLabs voice ID
	ModelID    string       // e.g., "eleven_turbo_v2_5" for low latency
	BaseURL    string       // overrides the API endpoint
	Stability  float64      // 0-1, negative means default
	Similarity float64      // 0-1, negative means default
	HTTPClient *http.Client // shared client with connection pooling, nil for a default
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_turbo_v2_5"
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel - neutral, clear
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		voiceID:    voiceID,
		modelID:    modelID,
		baseURL:    baseURL,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

// WithVoice returns a copy of the client that speaks with another voice.
func (c *ElevenLabsClient) WithVoice(voiceID string) Client {
	if voiceID == "" || voiceID == c.voiceID {
		return c
	}
	cp := *c
	cp.voiceID = voiceID
	return &cp
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Format implements Client.
func (c *ElevenLabsClient) Format() string { return "audio/mpeg" }

func (c *ElevenLabsClient) post(ctx context.Context, path, text string) (*http.Response, error) {
	url := fmt.Sprintf("%s/%s%s?output_format=mp3_44100_128", c.baseURL, c.voiceID, path)

	req := ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
			Style:           0.5,
			UseSpeakerBoost: true,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}
	return resp, nil
}

// Synthesize converts text to speech and returns MP3 audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.post(ctx, "", text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// SynthesizeStream converts text to speech and streams MP3 chunks.
func (c *ElevenLabsClient) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	resp, err := c.post(ctx, "/stream", text)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ch, nil
}

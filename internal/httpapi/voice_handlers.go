package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hiremind/interview/internal/tts"
)

// Voice represents a curated interviewer voice
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
}

// Curated list of voices that work well for interviews
var curatedVoices = []Voice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Description: "Calm, professional", Gender: "female"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah", Description: "Soft, encouraging", Gender: "female"},
	{ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Description: "Deep, authoritative", Gender: "male"},
	{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Description: "Friendly, energetic", Gender: "male"},
}

const (
	ttsCacheDuration = time.Hour
	ttsCacheEntries  = 256
	maxTTSTextLength = 5000
)

// voiceSwitcher is implemented by clients that can speak with another voice.
type voiceSwitcher interface {
	WithVoice(voiceID string) tts.Client
}

// audioCache keeps recently synthesized clips. Questions are often replayed.
type audioCache struct {
	mu   sync.RWMutex
	data map[string]cachedAudio
}

type cachedAudio struct {
	audio     []byte
	expiresAt time.Time
}

func newAudioCache() *audioCache {
	return &audioCache{data: make(map[string]cachedAudio)}
}

func (c *audioCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.audio, true
}

func (c *audioCache) put(key string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if len(c.data) >= ttsCacheEntries {
		for k, e := range c.data {
			if now.After(e.expiresAt) {
				delete(c.data, k)
			}
		}
	}
	if len(c.data) >= ttsCacheEntries {
		return
	}
	c.data[key] = cachedAudio{audio: audio, expiresAt: now.Add(ttsCacheDuration)}
}

func (r *Router) knownVoice(id string) bool {
	for _, v := range r.cfg.Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

// handleListVoices returns the curated list of available voices
func (r *Router) handleListVoices(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"voices":  r.cfg.Voices,
		"enabled": r.tts != nil,
	})
}

// handleTTS synthesizes text. Without a provider, or when synthesis fails,
// the client is told to use the browser's voice instead.
func (r *Router) handleTTS(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text    string `json:"text"`
		VoiceID string `json:"voiceId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(text) > maxTTSTextLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text is longer than %d characters", maxTTSTextLength))
		return
	}
	if body.VoiceID != "" && !r.knownVoice(body.VoiceID) {
		writeError(w, http.StatusBadRequest, "invalid voiceId")
		return
	}

	if r.tts == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"useBrowserTTS": true})
		return
	}

	client := r.tts
	if vs, ok := client.(voiceSwitcher); ok && body.VoiceID != "" {
		client = vs.WithVoice(body.VoiceID)
	}

	key := body.VoiceID + "\x00" + text
	if audio, ok := r.ttsCache.get(key); ok {
		writeAudio(w, client.Format(), audio, "HIT")
		return
	}

	audio, err := client.Synthesize(req.Context(), text)
	if err != nil {
		r.logger.Printf("tts: synthesis failed, falling back to browser voice: %v", err)
		writeJSON(w, http.StatusOK, map[string]bool{"useBrowserTTS": true})
		return
	}
	r.ttsCache.put(key, audio)

	writeAudio(w, client.Format(), audio, "MISS")
}

func writeAudio(w http.ResponseWriter, format string, audio []byte, cache string) {
	w.Header().Set("Content-Type", format)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(audio)))
	w.Header().Set("X-Cache", cache)
	_, _ = w.Write(audio)
}

package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramClient implements the Client interface using Deepgram's streaming API.
type DeepgramClient struct {
	conn      *websocket.Conn
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop to finish
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey         string
	URL            string // overrides the streaming endpoint
	Language       string // e.g., "en-US"
	Model          string // e.g., "nova-3"
	SampleRate     int    // required with Encoding; ignored for containerized audio
	Encoding       string // e.g., "linear16"; empty for webm/opus from the browser
	Channels       int    // e.g., 1 for mono
	Punctuate      bool
	Endpointing    int // milliseconds of silence for endpointing, 0 for default
	UtteranceEndMs int // hard timeout after last speech, regardless of noise (0 for default)
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// StreamURL builds the listen URL for cfg.
func (cfg DeepgramConfig) StreamURL() string {
	base := cfg.URL
	if base == "" {
		base = deepgramWSURL
	}
	q := url.Values{}
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.Endpointing))
	}
	if cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}
	return base + "?" + q.Encode()
}

// NewDeepgramClient creates a new Deepgram streaming STT client.
func NewDeepgramClient(ctx context.Context, cfg DeepgramConfig) (*DeepgramClient, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.StreamURL(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	client := &DeepgramClient{
		conn:    conn,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// DeepgramDialer returns a Dialer that opens Deepgram streams with cfg.
func DeepgramDialer(cfg DeepgramConfig) Dialer {
	return func(ctx context.Context) (Client, error) {
		return NewDeepgramClient(ctx, cfg)
	}
}

// StreamAudio sends audio data to Deepgram.
func (c *DeepgramClient) StreamAudio(ctx context.Context, audio []byte) error {
	return c.write(websocket.BinaryMessage, audio)
}

// KeepAlive stops Deepgram from closing an idle stream.
func (c *DeepgramClient) KeepAlive() error {
	return c.write(websocket.TextMessage, []byte(`{"type": "KeepAlive"}`))
}

func (c *DeepgramClient) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client is closed")
	default:
	}

	return c.conn.WriteMessage(kind, data)
}

// Results returns the channel for receiving transcription results.
func (c *DeepgramClient) Results() <-chan TranscriptResult {
	return c.results
}

// Errors returns the channel for receiving errors.
func (c *DeepgramClient) Errors() <-chan error {
	return c.errors
}

// Close closes the Deepgram connection.
func (c *DeepgramClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for readLoop to finish before closing channels
		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

// readLoop reads responses from Deepgram and sends them to the results channel.
func (c *DeepgramClient) readLoop() {
	defer c.wg.Done()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("deepgram: failed to parse response: %v", err)
			continue
		}

		var result TranscriptResult
		switch resp.Type {
		case "SpeechStarted":
			result.SpeechStarted = true
		case "Results":
			if len(resp.Channel.Alternatives) > 0 {
				alt := resp.Channel.Alternatives[0]
				result.Text = alt.Transcript
				result.Confidence = alt.Confidence
			}
			result.IsFinal = resp.IsFinal
			result.SpeechFinal = resp.SpeechFinal
			if result.Text == "" && !result.IsFinal && !result.SpeechFinal {
				continue
			}
		default:
			continue
		}

		select {
		case <-c.done:
			return
		case c.results <- result:
		}
	}
}

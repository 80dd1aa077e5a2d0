package stt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hiremind/interview/internal/interview"
)

// keepAliver is implemented by clients that close idle streams.
type keepAliver interface {
	KeepAlive() error
}

// Capture turns a stream of microphone audio into transcript updates for one
// answer at a time. Audio fed while no capture session is running is dropped.
type Capture struct {
	dial      Dialer
	logger    *log.Logger
	keepAlive time.Duration

	mu      sync.Mutex
	session *captureSession
	total   time.Duration
}

type captureSession struct {
	client  Client
	sink    interview.CaptureSink
	started time.Time
	stop    chan struct{}
	once    sync.Once

	finals  []string
	interim string
	last    string
}

func NewCapture(dial Dialer, logger *log.Logger) *Capture {
	if logger == nil {
		logger = log.Default()
	}
	return &Capture{dial: dial, logger: logger, keepAlive: 5 * time.Second}
}

// Start opens a recognition stream and reports its transcript to sink.
func (c *Capture) Start(ctx context.Context, sink interview.CaptureSink) error {
	c.mu.Lock()
	running := c.session != nil
	c.mu.Unlock()
	if running {
		return fmt.Errorf("stt: capture already running")
	}

	client, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("stt: open stream: %w", err)
	}

	s := &captureSession{client: client, sink: sink, started: time.Now(), stop: make(chan struct{})}
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		_ = client.Close()
		return fmt.Errorf("stt: capture already running")
	}
	c.session = s
	c.mu.Unlock()

	go c.readLoop(s)
	if ka, ok := client.(keepAliver); ok && c.keepAlive > 0 {
		go c.keepAliveLoop(s, ka)
	}
	return nil
}

// Feed forwards microphone audio to the running stream.
func (c *Capture) Feed(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.client.StreamAudio(ctx, audio)
}

// Stop closes the running stream. Calling it again is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	if s != nil {
		c.total += time.Since(s.started)
	}
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	s.once.Do(func() { close(s.stop) })
	return s.client.Close()
}

// Running reports whether a capture session is open.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Seconds is the total time streams were open, for cost accounting.
func (c *Capture) Seconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.total
	if c.session != nil {
		total += time.Since(c.session.started)
	}
	return total.Seconds()
}

func (c *Capture) current(s *captureSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s
}

func (c *Capture) readLoop(s *captureSession) {
	results := s.client.Results()
	errs := s.client.Errors()
	for {
		select {
		case <-s.stop:
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Printf("stt: stream error: %v", err)
		case r, ok := <-results:
			if !ok {
				return
			}
			if !c.current(s) {
				return
			}
			c.handle(s, r)
		}
	}
}

func (c *Capture) handle(s *captureSession, r TranscriptResult) {
	if r.SpeechStarted {
		s.sink.SpeechDetected(true)
		return
	}

	text := strings.TrimSpace(r.Text)
	if r.IsFinal {
		if text != "" {
			s.finals = append(s.finals, text)
		}
		s.interim = ""
	} else {
		s.interim = text
	}
	if r.SpeechFinal {
		s.sink.SpeechDetected(false)
	}

	parts := s.finals
	if s.interim != "" {
		parts = append(parts[:len(parts):len(parts)], s.interim)
	}
	transcript := strings.Join(parts, " ")
	if transcript == s.last || transcript == "" {
		return
	}
	s.last = transcript
	s.sink.Transcript(transcript)
}

func (c *Capture) keepAliveLoop(s *captureSession, ka keepAliver) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := ka.KeepAlive(); err != nil {
				return
			}
		}
	}
}

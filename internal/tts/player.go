package tts

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrPlaybackTimeout is returned when the browser never acknowledged the end
// of playback.
var ErrPlaybackTimeout = errors.New("tts: playback not acknowledged")

var errEmptyStream = errors.New("tts: stream ended without audio")

// Player speaks text through a browser Output. Remote synthesis is tried
// first; without a client, or when synthesis fails, the browser's local voice
// reads the text instead.
type Player struct {
	client Client // nil means local voice only
	out    Output
	logger *log.Logger

	// OnSynthesized is called with the character count of each remote
	// synthesis, for cost accounting.
	OnSynthesized func(chars int)

	mu      sync.Mutex
	playing *playback
}

type playback struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

func (pb *playback) finish() { pb.once.Do(func() { close(pb.done) }) }

func NewPlayer(client Client, out Output, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	return &Player{client: client, out: out, logger: logger}
}

// Speak plays text and blocks until the browser reports the end of playback,
// ctx is done, Cancel is called, or the estimated playback time runs out.
func (p *Player) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pb := &playback{done: make(chan struct{}), cancel: cancel}
	p.mu.Lock()
	if prev := p.playing; prev != nil {
		prev.cancel()
	}
	p.playing = pb
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.playing == pb {
			p.playing = nil
		}
		p.mu.Unlock()
	}()

	if err := p.start(ctx, pb, text); err != nil {
		return err
	}

	timer := time.NewTimer(PlaybackEstimate(text))
	defer timer.Stop()
	select {
	case <-pb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPlaybackTimeout
	}
}

func (p *Player) start(ctx context.Context, pb *playback, text string) error {
	if p.client == nil {
		return p.deliver(ctx, pb, func() error { return p.out.SpeakLocal(text) })
	}

	if s, ok := p.client.(Streamer); ok {
		if out, ok := p.out.(ChunkOutput); ok {
			started, err := p.stream(ctx, pb, s, out, text)
			if started || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("tts: streaming failed, using local voice: %v", err)
			return p.deliver(ctx, pb, func() error { return p.out.SpeakLocal(text) })
		}
	}

	audio, err := p.client.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Printf("tts: synthesis failed, using local voice: %v", err)
		return p.deliver(ctx, pb, func() error { return p.out.SpeakLocal(text) })
	}
	if err := p.deliver(ctx, pb, func() error { return p.out.PlayAudio(audio, p.client.Format()) }); err != nil {
		return err
	}
	if p.OnSynthesized != nil {
		p.OnSynthesized(len(text))
	}
	return nil
}

// stream forwards chunks as they arrive. started reports whether any audio
// reached the browser; before that the caller may still fall back.
func (p *Player) stream(ctx context.Context, pb *playback, s Streamer, out ChunkOutput, text string) (started bool, err error) {
	ch, err := s.SynthesizeStream(ctx, text)
	if err != nil {
		return false, err
	}

	format := s.Format()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return seq > 0, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return seq > 0, ctx.Err()
				}
				if seq == 0 {
					return false, errEmptyStream
				}
				if err := p.deliver(ctx, pb, func() error { return out.PlayAudioChunk(nil, format, seq, true) }); err != nil {
					return true, err
				}
				if p.OnSynthesized != nil {
					p.OnSynthesized(len(text))
				}
				return true, nil
			}
			if len(chunk) == 0 {
				continue
			}
			n := seq
			if err := p.deliver(ctx, pb, func() error { return out.PlayAudioChunk(chunk, format, n, false) }); err != nil {
				return seq > 0, err
			}
			seq++
		}
	}
}

// deliver sends to the browser only while pb is still the current playback.
// The check and the send share p.mu with Cancel, so no audio follows the
// stop_audio a barge-in produces.
func (p *Player) deliver(ctx context.Context, pb *playback, send func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing != pb {
		// Cancel clears playing before it cancels ctx.
		return context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return send()
}

// PlaybackDone is called when the browser finished playing.
func (p *Player) PlaybackDone() {
	p.mu.Lock()
	pb := p.playing
	p.mu.Unlock()
	if pb != nil {
		pb.finish()
	}
}

// Cancel stops the current playback. It is safe to call at any time.
func (p *Player) Cancel() error {
	p.mu.Lock()
	pb := p.playing
	p.playing = nil
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	pb.cancel()
	return p.out.StopAudio()
}

// PlaybackEstimate bounds how long speaking text can take: about 150 words
// per minute plus a fixed margin for synthesis and buffering.
func PlaybackEstimate(text string) time.Duration {
	words := len(strings.Fields(text))
	return time.Duration(words)*400*time.Millisecond + 5*time.Second
}

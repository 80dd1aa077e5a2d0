package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech and returns audio data.
	// The returned audio is in the format reported by Format.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Format is the MIME type of the produced audio.
	Format() string
}

// Streamer is a Client that can return audio while it is still being
// synthesized. The channel is closed when the clip ends or ctx is done.
type Streamer interface {
	Client
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}

// Output is the browser side of playback.
type Output interface {
	// PlayAudio sends synthesized audio to be played.
	PlayAudio(audio []byte, format string) error
	// SpeakLocal asks the browser to read text with its own voice.
	SpeakLocal(text string) error
	// StopAudio interrupts whatever is playing.
	StopAudio() error
}

// ChunkOutput is an Output that starts playing a clip before all of it has
// arrived. Chunks are numbered from 0; the final call has last set and no
// audio.
type ChunkOutput interface {
	Output
	PlayAudioChunk(chunk []byte, format string, seq int, last bool) error
}

// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a real-time transcription service (e.g., a
// WhisperLive server or a cloud streaming API) and exposes a uniform
// streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw PCM audio frames and emits two streams of
// Transcript values, low-latency partials for live display and
// authoritative finals for the report transcript.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session. All fields must be compatible with what the underlying
// provider supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual value
	// for STT-optimised mono capture.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Vocabulary lists recognition hints that raise the probability of
	// uncommon words, such as radiology terminology. Providers without
	// hint support ignore it.
	Vocabulary []string
}

// SessionHandle represents an open STT streaming session. It is an
// interface so that test code can provide mock implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed; failing
// to do so may leak goroutines and network connections inside the
// provider implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider
	// for transcription. The chunk must match the SampleRate, Channels,
	// and bit depth agreed in StreamConfig. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting low-latency interim
	// Transcript values. They drive live UI display and must not be
	// written to the report transcript. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative
	// Transcript values once the provider commits to a result. These are
	// the values appended to the report transcript. Closed when the
	// session ends.
	Finals() <-chan Transcript

	// Errors returns a read-only channel emitting recognition errors that
	// occur mid-session. The session stays open after an error unless the
	// error kind is fatal (see ErrorKind.Fatal). Closed when the session
	// ends.
	Errors() <-chan *RecognitionError

	// Close terminates the session, flushes pending audio, and releases
	// all resources. After Close returns, the output channels will be
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may
// be open simultaneously (e.g., one per connected dictation client).
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close
	// when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

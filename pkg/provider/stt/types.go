package stt

import (
	"fmt"
	"time"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or
	// partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero
	// if the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil for
	// providers without word-level output.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session
	// start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// ErrorKind classifies recognition failures into the fixed taxonomy
// surfaced to dictation clients. The string values are the wire codes.
type ErrorKind string

const (
	// ErrNoSpeech: the recognizer heard no speech in the capture window.
	ErrNoSpeech ErrorKind = "no-speech"

	// ErrAborted: recognition was aborted by the client or server.
	ErrAborted ErrorKind = "aborted"

	// ErrAudioCapture: no usable capture device was available.
	ErrAudioCapture ErrorKind = "audio-capture"

	// ErrNetwork: a network failure interrupted recognition.
	ErrNetwork ErrorKind = "network"

	// ErrNotAllowed: microphone permission was denied.
	ErrNotAllowed ErrorKind = "not-allowed"

	// ErrServiceNotAllowed: the recognition service refused the request.
	ErrServiceNotAllowed ErrorKind = "service-not-allowed"

	// ErrBadGrammar: the recognition grammar was rejected.
	ErrBadGrammar ErrorKind = "bad-grammar"

	// ErrLanguageNotSupported: the requested language is unavailable.
	ErrLanguageNotSupported ErrorKind = "language-not-supported"

	// ErrUnknown: any failure outside the taxonomy above.
	ErrUnknown ErrorKind = "unknown"
)

// errorMessages maps each kind to the fixed human-readable message shown
// to the dictating clinician.
var errorMessages = map[ErrorKind]string{
	ErrNoSpeech:             "No speech detected. Please speak clearly into the microphone.",
	ErrAborted:              "Speech recognition was aborted.",
	ErrAudioCapture:         "Audio capture failed. Please check your microphone.",
	ErrNetwork:              "Network error occurred during speech recognition.",
	ErrNotAllowed:           "Microphone access denied. Please allow microphone permissions.",
	ErrServiceNotAllowed:    "Speech recognition service not allowed.",
	ErrBadGrammar:           "Speech recognition grammar error.",
	ErrLanguageNotSupported: "Language not supported for speech recognition.",
	ErrUnknown:              "An unknown error occurred during speech recognition.",
}

// Message returns the fixed human-readable message for the kind. Kinds
// outside the taxonomy fall back to the unknown message.
func (k ErrorKind) Message() string {
	if msg, ok := errorMessages[k]; ok {
		return msg
	}
	return errorMessages[ErrUnknown]
}

// Fatal reports whether retrying without reconfiguration is pointless.
// Every recognition error ends the current listening attempt; this
// distinguishes permission and capability failures, where a plain
// retry cannot succeed, from transient conditions such as silence or a
// network blip.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrNotAllowed, ErrServiceNotAllowed, ErrAudioCapture, ErrLanguageNotSupported:
		return true
	default:
		return false
	}
}

// KindOf normalizes a wire code into a taxonomy kind. Unrecognized codes
// map to ErrUnknown.
func KindOf(code string) ErrorKind {
	k := ErrorKind(code)
	if _, ok := errorMessages[k]; ok {
		return k
	}
	return ErrUnknown
}

// RecognitionError is a classified recognition failure. Cause holds the
// underlying provider error when one exists.
type RecognitionError struct {
	Kind  ErrorKind
	Cause error
}

// Error implements the error interface.
func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stt: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("stt: %s: %s", e.Kind, e.Kind.Message())
}

// Unwrap returns the underlying cause.
func (e *RecognitionError) Unwrap() error { return e.Cause }

// NewError builds a RecognitionError of the given kind.
func NewError(kind ErrorKind, cause error) *RecognitionError {
	return &RecognitionError{Kind: kind, Cause: cause}
}

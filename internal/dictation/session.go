// Package dictation implements the speech capture session that drives a
// report's transcript. A Session wraps one stt.Provider and exposes a
// small state machine:
//
//	Idle ──Start──▶ Listening ──Stop/error──▶ Idle
//
// A session constructed without a provider is Unsupported: Start always
// fails and the state never changes. Every recognition error ends the
// current listening attempt; the error is recorded, committed transcript
// text is untouched, and the next Start clears it. Interim transcripts are held for
// display only; final transcripts pass through the finalizer and are
// appended to the accumulated transcript with a single separating space.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mwaldt/radscribe/internal/normalize"
	"github.com/mwaldt/radscribe/internal/normalize/phonetic"
	"github.com/mwaldt/radscribe/pkg/provider/stt"
)

// State is the session lifecycle state.
type State string

const (
	// StateIdle: no capture in progress; Start is allowed.
	StateIdle State = "idle"

	// StateListening: a capture stream is open and consuming audio.
	StateListening State = "listening"

	// StateUnsupported: no STT provider is available. Absorbing; no
	// transition leaves it.
	StateUnsupported State = "unsupported"
)

// Sentinel errors returned by Start.
var (
	// ErrUnsupported: the session has no STT provider.
	ErrUnsupported = errors.New("dictation: speech recognition is not supported")

	// ErrAlreadyListening: Start was called while a capture is active.
	ErrAlreadyListening = errors.New("dictation: already listening")
)

// Finalizer transforms a final transcript span before it is appended.
type Finalizer func(string) string

// defaultMatcher recovers misrecognized medical vocabulary. Built once;
// the Matcher is immutable after construction.
var defaultMatcher = phonetic.New(normalize.CanonicalTerms())

// DefaultFinalizer runs the standard normalization pipeline: phonetic
// vocabulary recovery, medical term corrections, measurement parsing,
// then transcript cleanup.
func DefaultFinalizer(s string) string {
	s, _ = defaultMatcher.Correct(s)
	s = normalize.ApplyMedicalCorrections(s)
	s = normalize.ParseMedicalMeasurements(s)
	return normalize.CleanTranscript(s)
}

// Option is a functional option for Session.
type Option func(*Session)

// WithFinalizer replaces the final-span transform. Default:
// DefaultFinalizer.
func WithFinalizer(f Finalizer) Option {
	return func(s *Session) { s.finalize = f }
}

// WithStreamConfig sets the stream configuration passed to the provider
// on every Start.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(s *Session) { s.streamCfg = cfg }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Events receives session callbacks. All fields are optional. Callbacks
// run on the session's consumer goroutine and must not block.
type Events struct {
	// OnInterim fires for every partial transcript.
	OnInterim func(text string)

	// OnFinal fires for every finalized span, after the finalizer ran.
	OnFinal func(text string)

	// OnError fires for every recognition error, fatal or not.
	OnError func(err *stt.RecognitionError)

	// OnStateChange fires whenever the state transitions.
	OnStateChange func(state State)
}

// Session is a dictation capture session. Safe for concurrent use.
type Session struct {
	provider  stt.Provider
	streamCfg stt.StreamConfig
	finalize  Finalizer
	events    Events
	log       *slog.Logger

	mu         sync.Mutex
	state      State
	handle     stt.SessionHandle
	cancel     context.CancelFunc
	consumerWG sync.WaitGroup
	transcript string
	interim    string
	lastErr    *stt.RecognitionError
}

// NewSession builds a session over provider. A nil provider yields an
// Unsupported session.
func NewSession(provider stt.Provider, events Events, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		events:   events,
		finalize: DefaultFinalizer,
		log:      slog.Default(),
		state:    StateIdle,
		streamCfg: stt.StreamConfig{
			SampleRate: 16000,
			Channels:   1,
			Language:   "en-US",
			Vocabulary: normalize.CanonicalTerms(),
		},
	}
	for _, o := range opts {
		o(s)
	}
	if provider == nil {
		s.state = StateUnsupported
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the accumulated finalized transcript.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Interim returns the most recent partial transcript, valid only while
// listening.
func (s *Session) Interim() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interim
}

// LastError returns the most recent recognition error of the current
// attempt, or nil. Start clears it.
func (s *Session) LastError() *stt.RecognitionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start opens a capture stream and begins consuming transcripts. It
// clears any error recorded by a previous attempt.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnsupported {
		s.mu.Unlock()
		return ErrUnsupported
	}
	if s.state == StateListening {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	s.lastErr = nil
	s.interim = ""
	cfg := s.streamCfg
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	handle, err := s.provider.StartStream(streamCtx, cfg)
	if err != nil {
		cancel()
		s.recordError(stt.NewError(stt.ErrNetwork, err))
		return fmt.Errorf("dictation: start stream: %w", err)
	}

	s.mu.Lock()
	s.handle = handle
	s.cancel = cancel
	s.setStateLocked(StateListening)
	s.consumerWG.Add(1)
	s.mu.Unlock()

	go s.consume(handle)
	return nil
}

// Stop ends the current capture and returns the session to Idle. It is
// the cancellation primitive: pending audio is flushed by the provider
// and the consumer drains remaining finals before Stop returns. Calling
// Stop while Idle is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.mu.Unlock()

	err := handle.Close()
	s.consumerWG.Wait()

	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("dictation: close stream: %w", err)
	}
	return nil
}

// SendAudio forwards a PCM chunk to the open stream.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	handle := s.handle
	state := s.state
	s.mu.Unlock()

	if state != StateListening || handle == nil {
		return fmt.Errorf("dictation: not listening")
	}
	return handle.SendAudio(chunk)
}

// consume drains the stream's output channels until all are closed.
func (s *Session) consume(handle stt.SessionHandle) {
	defer s.consumerWG.Done()

	partials := handle.Partials()
	finals := handle.Finals()
	errs := handle.Errors()
	aborted := false

	for partials != nil || finals != nil || errs != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.mu.Lock()
			s.interim = t.Text
			s.mu.Unlock()
			if s.events.OnInterim != nil {
				s.events.OnInterim(t.Text)
			}

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			final := s.finalize(t.Text)
			if final == "" {
				continue
			}
			s.mu.Lock()
			s.appendLocked(final)
			s.interim = ""
			s.mu.Unlock()
			if s.events.OnFinal != nil {
				s.events.OnFinal(final)
			}

		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.recordError(e)
			// Any recognition error ends the attempt; already-committed
			// transcript text is preserved.
			if !aborted {
				aborted = true
				go s.abort(handle)
			}
		}
	}
}

// abort closes the stream after a recognition error and returns the
// session to Idle. Runs off the consumer goroutine so channel draining
// continues while Close flushes.
func (s *Session) abort(handle stt.SessionHandle) {
	if err := handle.Close(); err != nil {
		s.log.Warn("dictation stream close after fatal error failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateListening && s.handle == handle {
		s.teardownLocked()
	}
}

// appendLocked applies the single-space merge policy. Caller holds mu.
func (s *Session) appendLocked(span string) {
	if s.transcript == "" {
		s.transcript = span
		return
	}
	s.transcript = s.transcript + " " + span
}

// teardownLocked resets stream state and moves to Idle. Caller holds mu.
func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.handle = nil
	s.interim = ""
	s.setStateLocked(StateIdle)
}

// recordError stores the attempt error and notifies listeners.
func (s *Session) recordError(e *stt.RecognitionError) {
	s.mu.Lock()
	s.lastErr = e
	s.mu.Unlock()
	s.log.Warn("recognition error", "kind", string(e.Kind), "message", e.Kind.Message())
	if s.events.OnError != nil {
		s.events.OnError(e)
	}
}

// setStateLocked transitions state and notifies. Caller holds mu.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.events.OnStateChange != nil {
		// Fire outside the lock to keep callbacks reentrancy-safe.
		go s.events.OnStateChange(next)
	}
}

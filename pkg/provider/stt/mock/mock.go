// Package mock provides scriptable stt.Provider and stt.SessionHandle
// test doubles.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/mwaldt/radscribe/pkg/provider/stt"
)

// Provider is a mock stt.Provider that hands out pre-built sessions.
type Provider struct {
	mu sync.Mutex

	// StartErr, when non-nil, is returned by StartStream.
	StartErr error

	// Session is returned by StartStream. When nil, a fresh Session is
	// created per call.
	Session *Session

	started []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements stt.Provider.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Started returns the configs of every StartStream call, in order.
func (p *Provider) Started() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.StreamConfig, len(p.started))
	copy(out, p.started)
	return out
}

// Session is a scriptable stt.SessionHandle. Tests push transcripts and
// errors through EmitPartial, EmitFinal, and EmitError; the session owner
// consumes them through the handle channels as with a real provider.
type Session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan *stt.RecognitionError

	mu     sync.Mutex
	closed bool
	audio  [][]byte

	// SendAudioErr, when non-nil, is returned by SendAudio.
	SendAudioErr error
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan *stt.RecognitionError, 16),
	}
}

// SendAudio implements stt.SessionHandle, recording the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.audio = append(s.audio, buf)
	return nil
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Errors implements stt.SessionHandle.
func (s *Session) Errors() <-chan *stt.RecognitionError { return s.errs }

// Close implements stt.SessionHandle. The output channels are closed so
// consumers drain as with a real session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	close(s.errs)
	return nil
}

// EmitPartial scripts an interim transcript.
func (s *Session) EmitPartial(text string, confidence float64) {
	s.partials <- stt.Transcript{Text: text, Confidence: confidence}
}

// EmitFinal scripts a final transcript.
func (s *Session) EmitFinal(text string, confidence float64) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: confidence}
}

// EmitError scripts a recognition error.
func (s *Session) EmitError(kind stt.ErrorKind) {
	s.errs <- stt.NewError(kind, nil)
}

// Audio returns every chunk passed to SendAudio, in order.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

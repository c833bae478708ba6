// Package whisperlive provides an STT provider backed by a WhisperLive
// transcription server over its streaming WebSocket protocol. It
// implements the stt.Provider interface.
//
// The protocol is: dial, send a JSON configuration message, then stream
// raw PCM audio as binary frames. The server replies with JSON messages
// carrying transcription segments; segments marked completed are emitted
// as finals, the rest as partials.
package whisperlive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mwaldt/radscribe/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultModel      = "small.en"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Whisper model the server should load (e.g.,
// "small.en", "medium").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default recognition language code.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by a WhisperLive server.
type Provider struct {
	endpoint   string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider pointed at the given WebSocket endpoint, e.g.
// "ws://localhost:9090".
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("whisperlive: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// startMessage is the JSON configuration sent immediately after dialing.
type startMessage struct {
	UID        string   `json:"uid"`
	Task       string   `json:"task"`
	Model      string   `json:"model"`
	Language   string   `json:"language"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels,omitempty"`
	Vocabulary []string `json:"initial_prompt_terms,omitempty"`
}

// StartStream opens a streaming transcription session.
// It respects cfg.SampleRate, cfg.Language, and cfg.Vocabulary.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("whisperlive: dial: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	start := startMessage{
		UID:        uuid.NewString(),
		Task:       "transcribe",
		Model:      p.model,
		Language:   lang,
		SampleRate: sr,
		Channels:   cfg.Channels,
		Vocabulary: cfg.Vocabulary,
	}
	payload, err := json.Marshal(start)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "config marshal failed")
		return nil, fmt.Errorf("whisperlive: marshal start message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusInternalError, "config write failed")
		return nil, fmt.Errorf("whisperlive: send start message: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan *stt.RecognitionError, 16),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// ---- session ----

// serverMessage is the JSON structure the server sends for transcription
// results and status updates.
type serverMessage struct {
	UID      string `json:"uid"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Segments []struct {
		Start     float64 `json:"start"`
		End       float64 `json:"end"`
		Text      string  `json:"text"`
		Completed bool    `json:"completed"`
		Score     float64 `json:"score"`
	} `json:"segments,omitempty"`
}

// session is a live WhisperLive streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan *stt.RecognitionError
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to the server.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisperlive: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisperlive: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Errors returns the channel of recognition errors.
func (s *session) Errors() <-chan *stt.RecognitionError { return s.errs }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask the server to flush pending audio before disconnecting.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"END_OF_AUDIO"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary frames.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages and dispatches transcripts and errors.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.errs)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Close in progress; a read failure is expected.
			default:
				s.emitError(stt.NewError(stt.ErrNetwork, err))
			}
			return
		}

		var resp serverMessage
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}

		if resp.Error != "" {
			s.emitError(stt.NewError(classifyServerError(resp.Error), errors.New(resp.Error)))
			continue
		}

		for _, seg := range resp.Segments {
			t := stt.Transcript{
				Text:       strings.TrimSpace(seg.Text),
				IsFinal:    seg.Completed,
				Confidence: seg.Score,
				Timestamp:  time.Duration(seg.Start * float64(time.Second)),
				Duration:   time.Duration((seg.End - seg.Start) * float64(time.Second)),
			}
			if t.Text == "" {
				continue
			}
			if t.IsFinal {
				select {
				case s.finals <- t:
				case <-s.done:
				}
			} else {
				select {
				case s.partials <- t:
				case <-s.done:
				}
			}
		}
	}
}

// emitError delivers a recognition error unless the session is closing.
func (s *session) emitError(err *stt.RecognitionError) {
	select {
	case s.errs <- err:
	case <-s.done:
	}
}

// classifyServerError maps a server-reported error string onto the fixed
// error taxonomy.
func classifyServerError(msg string) stt.ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no speech"), strings.Contains(lower, "silence"):
		return stt.ErrNoSpeech
	case strings.Contains(lower, "abort"):
		return stt.ErrAborted
	case strings.Contains(lower, "language"):
		return stt.ErrLanguageNotSupported
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"):
		return stt.ErrServiceNotAllowed
	default:
		return stt.ErrUnknown
	}
}

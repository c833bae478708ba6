package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric"

	"github.com/mwaldt/radscribe/internal/dictation"
	"github.com/mwaldt/radscribe/internal/observe"
	"github.com/mwaldt/radscribe/pkg/provider/stt"
)

// writeTimeout bounds a single outbound WebSocket write. Session
// callbacks must not block; a stalled client loses events rather than
// wedging the dictation pipeline.
const writeTimeout = 5 * time.Second

// dictationEvent is an outbound message on the dictation socket.
type dictationEvent struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
	Fatal      bool   `json:"fatal,omitempty"`
}

// dictationControl is an inbound text message. Audio arrives as binary
// frames and carries no JSON envelope.
type dictationControl struct {
	Type string `json:"type"` // "start" or "stop"
}

// socketWriter serialises concurrent writes from the read loop and the
// session callback goroutine.
type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

func (sw *socketWriter) send(ev dictationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := wsjson.Write(ctx, sw.conn, ev); err != nil {
		sw.log.Debug("dictation event write failed", "type", ev.Type, "error", err)
	}
}

// handleDictation runs one dictation capture session over a WebSocket.
//
// Inbound: binary frames carry raw PCM audio; text frames carry control
// JSON ({"type":"start"} / {"type":"stop"}). Outbound: JSON events of
// type "state", "interim", "final", and "error". The socket owns exactly
// one session; closing it ends the capture.
func (s *Server) handleDictation(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("dictation websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sw := &socketWriter{conn: conn, log: s.log}

	sess := dictation.NewSession(s.stt, dictation.Events{
		OnStateChange: func(st dictation.State) {
			sw.send(dictationEvent{Type: "state", State: string(st)})
		},
		OnInterim: func(text string) {
			sw.send(dictationEvent{Type: "interim", Text: text})
		},
		OnFinal: func(text string) {
			sw.send(dictationEvent{Type: "final", Text: text})
		},
		OnError: func(e *stt.RecognitionError) {
			s.metrics.RecordRecognitionError(ctx, string(e.Kind))
			sw.send(dictationEvent{
				Type:    "error",
				Kind:    string(e.Kind),
				Message: e.Kind.Message(),
				Fatal:   e.Kind.Fatal(),
			})
		},
	}, dictation.WithLogger(s.log))

	sw.send(dictationEvent{Type: "state", State: string(sess.State())})

	s.metrics.ActiveDictationSessions.Add(ctx, 1)
	opened := time.Now()
	defer func() {
		if err := sess.Stop(); err != nil {
			s.log.Warn("dictation session stop failed", "error", err)
		}
		// Final transcript snapshot is stable once Stop returned.
		sw.send(dictationEvent{Type: "final", Transcript: sess.Transcript()})
		s.metrics.ActiveDictationSessions.Add(ctx, -1)
		s.metrics.STTDuration.Record(ctx, time.Since(opened).Seconds(),
			metric.WithAttributes(observe.Attr("endpoint", "dictation")))
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Debug("dictation websocket read ended", "error", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := sess.SendAudio(data); err != nil {
				s.log.Debug("audio chunk dropped", "error", err)
			}

		case websocket.MessageText:
			var ctl dictationControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				sw.send(dictationEvent{Type: "error", Kind: string(stt.ErrUnknown), Message: "invalid control message"})
				continue
			}
			s.handleControl(ctx, ctl, sess, sw)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, ctl dictationControl, sess *dictation.Session, sw *socketWriter) {
	switch ctl.Type {
	case "start":
		err := sess.Start(ctx)
		s.metrics.RecordProviderRequest(ctx, "stt", "stream", statusLabel(err))
		if err != nil {
			kind := stt.ErrUnknown
			switch {
			case errors.Is(err, dictation.ErrUnsupported):
				kind = stt.ErrServiceNotAllowed
			case errors.Is(err, dictation.ErrAlreadyListening):
				kind = stt.ErrAborted
			}
			sw.send(dictationEvent{Type: "error", Kind: string(kind), Message: err.Error()})
		}

	case "stop":
		if err := sess.Stop(); err != nil {
			sw.send(dictationEvent{Type: "error", Kind: string(stt.ErrUnknown), Message: err.Error()})
			return
		}
		sw.send(dictationEvent{Type: "final", Transcript: sess.Transcript()})

	default:
		sw.send(dictationEvent{Type: "error", Kind: string(stt.ErrUnknown), Message: "unknown control type " + ctl.Type})
	}
}

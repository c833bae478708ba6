package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mwaldt/radscribe/internal/format"
	"github.com/mwaldt/radscribe/internal/httpapi"
	"github.com/mwaldt/radscribe/internal/store"
	"github.com/mwaldt/radscribe/pkg/provider/llm"
	sttmock "github.com/mwaldt/radscribe/pkg/provider/stt/mock"
)

// wsEvent mirrors the outbound dictation event shape.
type wsEvent struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Fatal      bool   `json:"fatal"`
}

func dialDictation(t *testing.T, sttProvider *sttmock.Provider) *websocket.Conn {
	t.Helper()

	gw := format.New(func(string) (llm.Provider, error) { return nil, nil })
	mux := http.NewServeMux()
	httpapi.New(store.NewMemStore(), gw, httpapi.WithSTT(sttProvider)).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, ts.URL+"/api/dictation", nil)
	if err != nil {
		t.Fatalf("dial dictation socket: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// awaitEvent reads events until one with the given type arrives. State
// change events are delivered asynchronously, so interleaving with
// transcript events is not deterministic.
func awaitEvent(t *testing.T, conn *websocket.Conn, typ string) wsEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		var ev wsEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("waiting for %q event: %v", typ, err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

func sendControl(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, map[string]string{"type": typ}); err != nil {
		t.Fatalf("send %q control: %v", typ, err)
	}
}

func TestDictationSocketLifecycle(t *testing.T) {
	session := sttmock.NewSession()
	provider := &sttmock.Provider{Session: session}
	conn := dialDictation(t, provider)

	if ev := awaitEvent(t, conn, "state"); ev.State != "idle" {
		t.Fatalf("initial state = %q, want idle", ev.State)
	}

	sendControl(t, conn, "start")
	if ev := awaitEvent(t, conn, "state"); ev.State != "listening" {
		t.Fatalf("state after start = %q, want listening", ev.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	session.EmitPartial("the lung", 0.5)
	if ev := awaitEvent(t, conn, "interim"); ev.Text != "the lung" {
		t.Errorf("interim text = %q", ev.Text)
	}

	session.EmitFinal("the lung fields are clear", 0.93)
	if ev := awaitEvent(t, conn, "final"); ev.Text != "The lung fields are clear." {
		t.Errorf("final text = %q, want normalized span", ev.Text)
	}

	sendControl(t, conn, "stop")
	var stopped wsEvent
	for {
		stopped = awaitEvent(t, conn, "final")
		if stopped.Transcript != "" {
			break
		}
	}
	if stopped.Transcript != "The lung fields are clear." {
		t.Errorf("transcript = %q", stopped.Transcript)
	}

	// Audio sent while listening must have reached the provider session.
	if got := session.Audio(); len(got) != 1 {
		t.Errorf("audio chunks = %d, want 1", len(got))
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestDictationSocketRecognitionError(t *testing.T) {
	session := sttmock.NewSession()
	provider := &sttmock.Provider{Session: session}
	conn := dialDictation(t, provider)

	awaitEvent(t, conn, "state")
	sendControl(t, conn, "start")

	session.EmitError("no-speech")
	ev := awaitEvent(t, conn, "error")
	if ev.Kind != "no-speech" {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.Message != "No speech detected. Please speak clearly into the microphone." {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Fatal {
		t.Error("no-speech reported as fatal")
	}

	// The error ends the attempt: the session falls back to idle.
	for {
		if st := awaitEvent(t, conn, "state"); st.State == "idle" {
			break
		}
	}
}

func TestDictationSocketUnsupported(t *testing.T) {
	gw := format.New(func(string) (llm.Provider, error) { return nil, nil })
	mux := http.NewServeMux()
	httpapi.New(store.NewMemStore(), gw).Register(mux) // no STT provider
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.URL+"/api/dictation", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	if ev := awaitEvent(t, conn, "state"); ev.State != "unsupported" {
		t.Fatalf("state = %q, want unsupported", ev.State)
	}

	sendControl(t, conn, "start")
	ev := awaitEvent(t, conn, "error")
	if ev.Kind != "service-not-allowed" {
		t.Errorf("kind = %q", ev.Kind)
	}
}

package server

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/eyesoff/internal/alert"
)

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) overlayMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg overlayMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *OverlayHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOverlayHub_NoClients(t *testing.T) {
	h := NewOverlayHub(nil, quiet)
	if err := h.ShowOverlay("a", alert.OverlayRequest{FaceCount: 2}); !errors.Is(err, ErrNoClients) {
		t.Errorf("ShowOverlay() = %v, want ErrNoClients", err)
	}
	if err := h.HideOverlay("a"); err != nil {
		t.Errorf("HideOverlay() = %v", err)
	}
	if h.Name() != "websocket" {
		t.Errorf("Name() = %s", h.Name())
	}
}

func TestOverlayHub_ShowHide(t *testing.T) {
	h := NewOverlayHub(nil, quiet)
	ts := httptest.NewServer(h)
	defer ts.Close()

	first := dialHub(t, ts)
	waitClients(t, h, 1)

	req := alert.OverlayRequest{FaceCount: 3, Threshold: 1, Style: alert.OverlayStyle{Text: "EYES OFF!!!"}}
	if err := h.ShowOverlay("ov-1", req); err != nil {
		t.Fatalf("ShowOverlay() error = %v", err)
	}
	msg := readMessage(t, first)
	if msg.Type != "show" || msg.ID != "ov-1" || msg.Overlay == nil || msg.Overlay.FaceCount != 3 {
		t.Errorf("show message = %+v", msg)
	}
	if msg.Overlay.Style.Text != "EYES OFF!!!" {
		t.Errorf("style text = %q", msg.Overlay.Style.Text)
	}

	// A page opened while the overlay is up gets it immediately.
	late := dialHub(t, ts)
	if msg := readMessage(t, late); msg.Type != "show" || msg.ID != "ov-1" {
		t.Errorf("replayed message = %+v", msg)
	}

	if err := h.HideOverlay("ov-1"); err != nil {
		t.Fatalf("HideOverlay() error = %v", err)
	}
	for _, conn := range []*websocket.Conn{first, late} {
		if msg := readMessage(t, conn); msg.Type != "hide" || msg.ID != "ov-1" {
			t.Errorf("hide message = %+v", msg)
		}
	}

	// Nothing is replayed once hidden.
	third := dialHub(t, ts)
	waitClients(t, h, 3)
	third.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := third.ReadMessage(); err == nil {
		t.Error("unexpected message for a page opened after hide")
	}
}

func TestOverlayHub_Dismiss(t *testing.T) {
	var dismissed atomic.Int32
	h := NewOverlayHub(func() { dismissed.Add(1) }, quiet)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialHub(t, ts)
	waitClients(t, h, 1)

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if err := conn.WriteJSON(clientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(clientMessage{Type: "dismiss"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dismissed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := dismissed.Load(); got != 1 {
		t.Errorf("dismiss callback ran %d times, want 1", got)
	}

	conn.Close()
	waitClients(t, h, 0)
}

func TestOverlayHub_DismissIgnoresReplacedOverlay(t *testing.T) {
	var dismissed atomic.Int32
	h := NewOverlayHub(func() { dismissed.Add(1) }, quiet)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialHub(t, ts)
	waitClients(t, h, 1)

	for _, id := range []string{"ov-1", "ov-2"} {
		if err := h.ShowOverlay(id, alert.OverlayRequest{FaceCount: 2}); err != nil {
			t.Fatalf("ShowOverlay(%s) error = %v", id, err)
		}
		readMessage(t, conn)
	}

	// Messages are handled in order, so once the second dismiss has run the
	// first one has been seen and dropped.
	for _, id := range []string{"ov-1", "ov-2"} {
		if err := conn.WriteJSON(clientMessage{Type: "dismiss", ID: id}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for dismissed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := dismissed.Load(); got != 1 {
		t.Errorf("dismiss callback ran %d times, want 1 for the current overlay only", got)
	}
}

package server

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayusman/eyesoff/internal/app"
)

func TestStreamHandler(t *testing.T) {
	m := &stubMonitor{}
	h := NewStreamHandler(m)
	h.poll = 5 * time.Millisecond

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if m.watching() != 1 {
		t.Errorf("watchers = %d, want 1 while streaming", m.watching())
	}

	// Publish a new frame every few milliseconds; the third byte carries
	// the sequence number.
	go func() {
		for seq := uint64(1); ctx.Err() == nil; seq++ {
			m.setPreview(&app.Preview{JPEG: []byte{0xFF, 0xD8, byte(seq), 0xFF, 0xD9}, Seq: seq, At: time.Now()})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	var last byte
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("frame %d: NextPart() error = %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("frame %d: Content-Type = %s", i, ct)
		}
		got, _ := io.ReadAll(part)
		if len(got) != 5 || got[0] != 0xFF || got[1] != 0xD8 {
			t.Fatalf("frame %d: got % x, want a JPEG", i, got)
		}
		if got[2] <= last {
			t.Errorf("frame %d: sequence %d repeated or out of order after %d", i, got[2], last)
		}
		last = got[2]
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for m.watching() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.watching() != 0 {
		t.Error("preview watch not released after the client left")
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(&stubMonitor{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

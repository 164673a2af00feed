package stream

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() { f.n++ }

func TestCopyFlushingFlushesEveryChunk(t *testing.T) {
	src := bytes.Repeat([]byte{7}, mp3Chunk*2+10)
	var dst bytes.Buffer
	f := &countingFlusher{}

	n, err := copyFlushing(&dst, f, bytes.NewReader(src))
	if err == nil {
		t.Fatal("expected the reader's EOF to be returned")
	}
	if n != int64(len(src)) || !bytes.Equal(dst.Bytes(), src) {
		t.Fatalf("copied %d bytes, want %d", n, len(src))
	}
	if f.n != 3 {
		t.Errorf("flushes = %d, want 3", f.n)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestCopyFlushingStopsOnWriteError(t *testing.T) {
	f := &countingFlusher{}
	n, err := copyFlushing(failingWriter{}, f, strings.NewReader("abc"))
	if err == nil || err.Error() != "client gone" {
		t.Fatalf("err = %v, want write error", err)
	}
	if n != 0 || f.n != 0 {
		t.Errorf("n=%d flushes=%d, want nothing written", n, f.n)
	}
}

func TestWebRTCHandlerRequests(t *testing.T) {
	h := NewWebRTCHandler(NewMonitorBus(), nil)

	tests := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodOptions, "", http.StatusOK},
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "{not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s %q: status %d, want %d", tt.method, tt.body, rec.Code, tt.want)
		}
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/mixlab/internal/audio"
)

const (
	mp3Bitrate = "192k"
	mp3Chunk   = 4096
)

// HTTPHandler serves the monitor bus as a chunked MP3 stream, one ffmpeg
// encoder per listener.
type HTTPHandler struct {
	bus    *MonitorBus
	logger *slog.Logger
}

func NewHTTPHandler(bus *MonitorBus, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{bus: bus, logger: logger}
}

// mp3Encoder is a running ffmpeg process turning monitor PCM into MP3.
type mp3Encoder struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
}

func startMP3Encoder(ctx context.Context) (*mp3Encoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.MonitorChannels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", mp3Bitrate,
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-f", "mp3",
		"pipe:1",
	)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &mp3Encoder{cmd: cmd, in: in, out: out}, nil
}

// feed writes listener blocks to the encoder until the listener or ctx ends.
func (e *mp3Encoder) feed(ctx context.Context, l *Listener[[]audio.Sample]) {
	defer e.in.Close()
	var pcm []int16
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case block := <-l.C:
			pcm = audio.ToPCM(pcm, block)
			if _, err := e.in.Write(audio.SamplesToBytes(pcm)); err != nil {
				return
			}
		}
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	enc, err := startMP3Encoder(ctx)
	if err != nil {
		h.logger.Error("mp3 stream unavailable", slog.String("err", err.Error()))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		cancel()
		_ = enc.cmd.Wait()
	}()

	l := h.bus.Subscribe()
	defer h.bus.Unsubscribe(l)
	go enc.feed(ctx, l)

	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("ICY-Name", "mixlab monitor")

	h.logger.Info("mp3 listener joined", slog.Int("listeners", h.bus.ListenerCount()))
	n, err := copyFlushing(w, flusher, enc.out)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("mp3 stream ended", slog.String("err", err.Error()))
	}
	h.logger.Info("mp3 listener left", slog.Int64("bytes", n))
}

// copyFlushing copies src to w, flushing after every chunk so listeners
// hear audio as soon as it is encoded.
func copyFlushing(w io.Writer, f http.Flusher, src io.Reader) (int64, error) {
	buf := make([]byte, mp3Chunk)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			f.Flush()
		}
		if err != nil {
			return total, err
		}
	}
}

package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/mixlab/internal/audio"
)

const (
	opusBitrate  = 128000
	opusMaxFrame = 4000
)

// WebRTCHandler answers SDP offers with an Opus track carrying the monitor
// bus. Every engine block becomes one Opus frame.
type WebRTCHandler struct {
	bus    *MonitorBus
	logger *slog.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener[[]audio.Sample]
}

func NewWebRTCHandler(bus *MonitorBus, logger *slog.Logger) *WebRTCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCHandler{
		bus:    bus,
		logger: logger,
		peers:  make(map[*webrtc.PeerConnection]*Listener[[]audio.Sample]),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiateError carries the HTTP status for a failed negotiation step.
type negotiateError struct {
	status int
	step   string
	err    error
}

func (e *negotiateError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }
func (e *negotiateError) Unwrap() error { return e.err }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		hdr.Set("Access-Control-Allow-Methods", "POST")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := negotiate(offer)
	if err != nil {
		status := http.StatusInternalServerError
		if ne, ok := err.(*negotiateError); ok {
			status = ne.status
		}
		h.logger.Warn("webrtc negotiation failed", slog.String("err", err.Error()))
		http.Error(w, err.Error(), status)
		return
	}

	l := h.bus.Subscribe()
	h.mu.Lock()
	h.peers[pc] = l
	h.mu.Unlock()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.drop(pc)
		}
	})
	go h.send(l, track)

	h.logger.Info("webrtc peer joined", slog.Int("peers", h.PeerCount()))
	hdr.Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiate builds a peer connection with one Opus track and completes
// the answer, including ICE gathering.
func negotiate(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	fail := func(status int, step string, err error) error {
		return &negotiateError{status: status, step: step, err: err}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fail(http.StatusInternalServerError, "peer connection", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mixlab-monitor")
	if err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusBadRequest, "remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, fail(http.StatusInternalServerError, "local description", err)
	}
	<-gathered
	return pc, track, nil
}

// drop forgets pc and releases its listener. Safe to call more than once.
func (h *WebRTCHandler) drop(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.bus.Unsubscribe(l)
	_ = pc.Close()
	h.logger.Info("webrtc peer left", slog.Int("peers", h.PeerCount()))
}

// send encodes listener blocks into the track until the listener ends.
func (h *WebRTCHandler) send(l *Listener[[]audio.Sample], track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.MonitorChannels, opus.AppAudio)
	if err != nil {
		h.logger.Error("opus encoder", slog.String("err", err.Error()))
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		h.logger.Warn("opus bitrate", slog.String("err", err.Error()))
	}

	frame := make([]byte, opusMaxFrame)
	var pcm []int16
	for {
		select {
		case <-l.Done():
			return
		case block := <-l.C:
			pcm = audio.ToPCM(pcm, block)
			n, err := enc.Encode(pcm, frame)
			if err != nil {
				h.logger.Warn("opus encode", slog.String("err", err.Error()))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: frame[:n], Duration: audio.TickDuration}); err != nil {
				return
			}
		}
	}
}

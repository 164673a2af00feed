// Package server exposes a project over HTTP: workspace snapshots, the
// session event stream, edits, performance telemetry, media uploads and the
// monitor audio streams.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/satindergrewal/mixlab/internal/engine"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/plugin"
	"github.com/satindergrewal/mixlab/internal/project"
	"github.com/satindergrewal/mixlab/internal/stream"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

const uploadChunk = 32 << 10

// Server routes HTTP requests to a project.
type Server struct {
	project *project.Project
	bus     *stream.MonitorBus
	webrtc  *stream.WebRTCHandler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a server for p. bus carries the project's monitor output.
func New(p *project.Project, bus *stream.MonitorBus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		project: p,
		bus:     bus,
		webrtc:  stream.NewWebRTCHandler(bus, logger),
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/workspace", s.handleWorkspace)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/edit", s.handleEdit)
	s.mux.HandleFunc("GET /api/performance", s.handlePerformance)
	s.mux.HandleFunc("GET /api/media", s.handleMediaList)
	s.mux.HandleFunc("POST /api/media", s.handleUpload)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	// Audio streams
	s.mux.Handle("/stream", stream.NewHTTPHandler(bus, logger))
	s.mux.Handle("/offer", s.webrtc)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type snapshot struct {
	Since       uint64                                   `json:"since"`
	State       workspace.State                          `json:"state"`
	Indications map[workspace.ModuleID]module.Indication `json:"indications"`
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	state, sess, err := s.project.Connect(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	sess.Close()
	writeJSON(w, http.StatusOK, snapshot{Since: sess.Since(), State: state, Indications: sess.Indications()})
}

// handleEvents streams a snapshot followed by every subsequent event as
// newline-delimited JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	state, sess, err := s.project.Connect(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sess.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	enc := json.NewEncoder(w)
	if err := enc.Encode(snapshot{Since: sess.Since(), State: state, Indications: sess.Indications()}); err != nil {
		return
	}
	flusher.Flush()

	s.logger.Debug("event stream opened", slog.Uint64("since", sess.Since()))
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid edit", http.StatusBadRequest)
		return
	}
	edit, err := req.edit()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, sess, err := s.project.Connect(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sess.Close()

	res, err := sess.Apply(r.Context(), edit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "module": res.Module})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	l := s.project.PerformanceInfo()
	defer s.project.ClosePerformanceInfo(l)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-l.Done():
			return
		case info := <-l.C:
			if err := enc.Encode(info); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleMediaList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"library": s.project.Library(),
		"uploads": s.project.Uploads(),
	})
}

// handleUpload streams the request body into a new upload. A body that
// ends early (client gone) cancels the upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	if err != nil || size < 0 {
		http.Error(w, "size must be a non-negative integer", http.StatusBadRequest)
		return
	}
	info := project.UploadInfo{Name: q.Get("name"), Kind: q.Get("kind"), Size: size}
	if info.Name == "" || info.Kind == "" {
		http.Error(w, "name and kind are required", http.StatusBadRequest)
		return
	}

	up, err := s.project.BeginMediaUpload(r.Context(), info)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer up.Close()

	buf := make([]byte, uploadChunk)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			if err := up.ReceiveBytes(buf[:n]); err != nil {
				up.Cancel()
				s.fail(w, err)
				return
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			up.Cancel()
			s.logger.Warn("upload aborted",
				slog.String("upload", up.ID().String()), slog.String("err", readErr.Error()))
			http.Error(w, "upload aborted", http.StatusBadRequest)
			return
		}
	}

	media, err := up.Finalize(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, media)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"project":          s.project.Path(),
		"http_listeners":   s.bus.ListenerCount(),
		"webrtc_listeners": s.webrtc.PeerCount(),
		"media":            len(s.project.Library()),
		"uploads":          len(s.project.Uploads()),
	})
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoModule), errors.Is(err, project.ErrUnknownMedia):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrCycle), errors.Is(err, engine.ErrNotConnected),
		errors.Is(err, project.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNoTerminal), errors.Is(err, engine.ErrLineType),
		errors.Is(err, module.ErrInvalidParams), errors.Is(err, module.ErrUnknownKind),
		errors.Is(err, module.ErrKindMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, project.ErrSizeExceeded):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, plugin.ErrLoad):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrEngineUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("err", err.Error()))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package httpapi provides the HTTP API for openapply. It delegates all
// business logic to the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/openapply/openapply/engine"
	"github.com/openapply/openapply/model"
	"github.com/openapply/openapply/progress"
	"github.com/openapply/openapply/store"
)

// maxResponseBytes bounds incoming AI responses. LLM output is large but
// bounded; anything past this is a protocol error, not a prompt.
const maxResponseBytes = 4 << 20

// Handler provides the HTTP API for openapply.
type Handler struct {
	engine *engine.Engine
	router chi.Router

	upgrader websocket.Upgrader
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine) *Handler {
	h := &Handler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))
			r.Post("/sandboxes", h.handleCreateSandbox)
			r.Get("/sandboxes", h.handleListSandboxes)
			r.Get("/sandboxes/{id}", h.handleGetSandbox)
			r.Delete("/sandboxes/{id}", h.handleTerminateSandbox)
			r.Post("/sandboxes/cleanup", h.handleCleanupSandboxes)
			r.Post("/apply", h.handleApply)
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
			r.Get("/runs/{id}/events", h.handleGetRunEvents)
		})
		// Streaming endpoints manage their own lifetimes.
		r.Post("/apply/stream", h.handleApplyStream)
		r.Get("/apply/ws", h.handleApplyWS)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type sandboxResponse struct {
	SandboxID    string    `json:"sandboxId"`
	URL          string    `json:"url,omitempty"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	KnownFiles   int       `json:"knownFiles"`
}

type applyResponse struct {
	Success     bool               `json:"success"`
	Results     *model.ApplyResult `json:"results"`
	Explanation string             `json:"explanation,omitempty"`
	Structure   string             `json:"structure,omitempty"`
	Message     string             `json:"message"`
}

type applyNotFoundResponse struct {
	Success     bool               `json:"success"`
	Error       string             `json:"error"`
	Results     *model.ApplyResult `json:"results"`
	ParsedFiles []string           `json:"parsedFiles"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	rec, info, err := h.engine.CreateSandbox(r.Context(), requestOrigin(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("creating sandbox: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, sandboxResponse{
		SandboxID:    rec.SandboxID,
		URL:          info.URL,
		Provider:     rec.Provider.Name(),
		CreatedAt:    rec.CreatedAt,
		LastAccessed: rec.LastAccessed(),
		KnownFiles:   rec.KnownFileCount(),
	})
}

func (h *Handler) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	records := h.engine.Registry().List()
	out := make([]sandboxResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, sandboxResponse{
			SandboxID:    rec.SandboxID,
			URL:          rec.URL(),
			Provider:     rec.Provider.Name(),
			CreatedAt:    rec.CreatedAt,
			LastAccessed: rec.LastAccessed(),
			KnownFiles:   rec.KnownFileCount(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.engine.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	writeJSON(w, http.StatusOK, sandboxResponse{
		SandboxID:    rec.SandboxID,
		URL:          rec.URL(),
		Provider:     rec.Provider.Name(),
		CreatedAt:    rec.CreatedAt,
		LastAccessed: rec.LastAccessed(),
		KnownFiles:   rec.KnownFileCount(),
	})
}

func (h *Handler) handleTerminateSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.engine.Registry().Terminate(r.Context(), id) {
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated", "sandboxId": id})
}

// handleCleanupSandboxes sweeps idle sandboxes on demand, same as the
// periodic reaper.
func (h *Handler) handleCleanupSandboxes(w http.ResponseWriter, r *http.Request) {
	n := h.engine.Registry().Sweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"swept": n})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeApplyRequest(w, r)
	if !ok {
		return
	}

	result, parsed, err := h.engine.Apply(r.Context(), req, nil)
	if err != nil {
		var nf *engine.SandboxNotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, applyNotFoundResponse{
				Error:       nf.Error(),
				Results:     model.NewApplyResult(),
				ParsedFiles: nf.ParsedFiles,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		Success:     true,
		Results:     result,
		Explanation: parsed.Explanation,
		Structure:   parsed.Structure,
		Message:     applyMessage(result),
	})
}

// handleApplyStream runs an apply and streams newline-delimited JSON
// events, terminated by a complete (or error) event.
func (h *Handler) handleApplyStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeApplyRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := h.engine.StartApply(req)
	enc := json.NewEncoder(w)
	for ev := range stream.Events() {
		if err := enc.Encode(ev); err != nil {
			// Client went away. The run continues on the engine's
			// context; drain so the producer's tap still fires.
			for range stream.Events() {
			}
			return
		}
		flusher.Flush()
	}
}

// handleApplyWS upgrades to a websocket, reads one apply request, and
// streams progress events until the terminal event.
func (h *Handler) handleApplyWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxResponseBytes)
	var req model.ApplyRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSEvent(conn, progress.Event{Type: progress.TypeError, Error: "invalid apply request", Timestamp: time.Now().UTC()})
		return
	}
	if strings.TrimSpace(req.SandboxID) == "" {
		writeWSEvent(conn, progress.Event{Type: progress.TypeError, Error: "sandboxId is required", Timestamp: time.Now().UTC()})
		return
	}

	stream := h.engine.StartApply(req)
	for ev := range stream.Events() {
		if !writeWSEvent(conn, ev) {
			for range stream.Events() {
			}
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeWSEvent(conn *websocket.Conn, ev progress.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(ev); err != nil {
		log.Printf("httpapi: websocket write: %v", err)
		return false
	}
	return true
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Store()
	if st == nil {
		writeError(w, http.StatusNotImplemented, "run persistence disabled")
		return
	}
	runs, err := st.ListRuns(r.URL.Query().Get("sandboxId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Store()
	if st == nil {
		writeError(w, http.StatusNotImplemented, "run persistence disabled")
		return
	}
	run, err := st.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleGetRunEvents(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Store()
	if st == nil {
		writeError(w, http.StatusNotImplemented, "run persistence disabled")
		return
	}
	events, err := st.GetEvents(chi.URLParam(r, "id"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if events == nil {
		events = []*model.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Helpers ---

func decodeApplyRequest(w http.ResponseWriter, r *http.Request) (model.ApplyRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxResponseBytes)
	var req model.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.SandboxID = strings.TrimSpace(req.SandboxID)
	if req.SandboxID == "" {
		writeError(w, http.StatusBadRequest, "sandboxId is required")
		return req, false
	}
	if strings.TrimSpace(req.Response) == "" {
		writeError(w, http.StatusBadRequest, "response is required")
		return req, false
	}
	return req, true
}

func applyMessage(result *model.ApplyResult) string {
	written := len(result.FilesCreated) + len(result.FilesUpdated)
	msg := fmt.Sprintf("Applied %d files", written)
	if n := len(result.PackagesInstalled); n > 0 {
		msg += fmt.Sprintf(", installed %d packages", n)
	}
	if n := len(result.Errors); n > 0 {
		msg += fmt.Sprintf(" (%d errors)", n)
	}
	return msg
}

func requestOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

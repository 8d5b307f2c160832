// Package server provides the HTTP and WebSocket overlay feed
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/diagnostics"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/orchestrator"
	"github.com/koizumiiiii/Baketa-sub009/internal/resilience"
	"github.com/koizumiiiii/Baketa-sub009/internal/resource"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// EventSource is the overlay event hub.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	Recent(since time.Duration) []events.Event
	Dropped() int64
}

// Contexts exposes the orchestrator's per-context state.
type Contexts interface {
	States() []orchestrator.ContextState
	End(contextID string)
}

// Helper reports the external OCR/translation helper's health.
type Helper interface {
	Serving() bool
	Breakers() []resilience.Snapshot
}

// Options wires the server to the rest of the process. Only Events is
// required.
type Options struct {
	Events   EventSource
	Contexts Contexts
	Helper   Helper // nil when recognition runs in-process
	Resource interface {
		Snapshot(ctx context.Context) (resource.Snapshot, error)
	}
	Cascade interface{ Stats() changedetect.Stats }
	Session interface{ Summary() []diagnostics.StageSummary }
	Metrics http.Handler
}

// Message is the envelope of inbound client messages.
type Message struct {
	Type string `json:"type"`
}

type EndContextMessage struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
}

type EventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string                `json:"status"`
	Helper   *HelperHealth         `json:"helper,omitempty"`
	Resource *resource.Snapshot    `json:"resource,omitempty"`
	Breakers []resilience.Snapshot `json:"breakers,omitempty"`
}

type HelperHealth struct {
	Serving bool `json:"serving"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Cascade       *changedetect.Stats         `json:"cascade,omitempty"`
	Stages        []diagnostics.StageSummary  `json:"stages,omitempty"`
	Contexts      []orchestrator.ContextState `json:"contexts"`
	DroppedEvents int64                       `json:"dropped_events"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	opts Options
}

// New creates a new server.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Overlay feed
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/contexts/{id}/end", s.handleEndContext)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Subscribe before replaying so nothing published in between is lost.
	// An event may arrive twice; clients dedupe by id.
	sub, unsubscribe := s.opts.Events.Subscribe()
	defer unsubscribe()

	for _, ev := range s.opts.Events.Recent(ReplayWindow) {
		if err := write(ctx, conn, EventMessage{Type: "event", Event: ev}); err != nil {
			log.Debug("websocket replay error", "error", err)
			return
		}
	}

	go s.feed(ctx, cancel, conn, sub)

	rl := &rateLimiter{}
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			_ = write(ctx, conn, PongMessage{Type: "pong"})
		case "end_context":
			var end EndContextMessage
			if err := json.Unmarshal(msg, &end); err != nil || end.ContextID == "" {
				_ = write(ctx, conn, ErrorMessage{Type: "error", Message: "context_id required"})
				continue
			}
			s.endContext(ctx, end.ContextID)
		}
	}
}

// feed forwards hub events to one connection until the subscription or ctx
// ends. A failed write tears the connection down.
func (s *Server) feed(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub <-chan events.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := write(ctx, conn, EventMessage{Type: "event", Event: ev}); err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) endContext(ctx context.Context, contextID string) {
	if s.opts.Contexts == nil {
		return
	}
	trace.Logger(ctx).Info("ending context", "context_id", contextID)
	s.opts.Contexts.End(contextID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}

	if h := s.opts.Helper; h != nil {
		resp.Helper = &HelperHealth{Serving: h.Serving()}
		resp.Breakers = h.Breakers()
		if !resp.Helper.Serving {
			resp.Status = "degraded"
		}
		for _, b := range resp.Breakers {
			if b.State == resilience.Open.String() {
				resp.Status = "degraded"
			}
		}
	}

	if s.opts.Resource != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthSampleTimeout)
		snap, err := s.opts.Resource.Snapshot(ctx)
		cancel()
		if err != nil {
			trace.Logger(r.Context()).Warn("resource sample failed", "error", err)
		} else {
			resp.Resource = &snap
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		DroppedEvents: s.opts.Events.Dropped(),
		Contexts:      []orchestrator.ContextState{},
	}
	if s.opts.Cascade != nil {
		st := s.opts.Cascade.Stats()
		resp.Cascade = &st
	}
	if s.opts.Session != nil {
		resp.Stages = s.opts.Session.Summary()
	}
	if s.opts.Contexts != nil {
		for _, st := range s.opts.Contexts.States() {
			st.PreviousText = preview(st.PreviousText)
			st.LastTranslation = preview(st.LastTranslation)
			resp.Contexts = append(resp.Contexts, st)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := ReplayWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorMessage{Type: "error", Message: "invalid since"})
			return
		}
		since = d
	}
	evs := s.opts.Events.Recent(since)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleEndContext(w http.ResponseWriter, r *http.Request) {
	if s.opts.Contexts == nil {
		writeJSON(w, http.StatusNotFound, ErrorMessage{Type: "error", Message: "no contexts"})
		return
	}
	s.endContext(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "context_ended"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode error", "error", err)
	}
}

func preview(text string) string {
	if len(text) <= TextPreviewLimit {
		return text
	}
	// Back up to a rune boundary.
	cut := TextPreviewLimit
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "..."
}

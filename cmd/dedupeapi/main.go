// Command dedupeapi exposes the dedupe engine over HTTP: run the pipeline,
// mutate canonical events through review operations, list items needing
// review, and stream review-feed updates over a websocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/pipeline"
	"github.com/regioevents/dedupe/internal/review"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/internal/storage/memory"
	"github.com/regioevents/dedupe/internal/storage/postgres"
	"github.com/regioevents/dedupe/internal/storage/sqlite"
	"github.com/regioevents/dedupe/pkg/config"
	"github.com/regioevents/dedupe/pkg/telemetry"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	dbDriver := flag.String("db-driver", "sqlite", "storage backend: memory, sqlite, postgres")
	dbDSN := flag.String("db-dsn", "dedupe.db", "sqlite file path or postgres DSN")
	configRoot := flag.String("config", "", "config root directory (layered loader); empty uses defaults")
	flag.Parse()

	log := telemetry.NewDefaultLogger(os.Stdout, "dedupeapi")
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, *dbDriver, *dbDSN)
	if err != nil {
		log.Error(ctx, "store open failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer closeStore()

	cfg, err := loadAPIConfig(*configRoot)
	if err != nil {
		log.Error(ctx, "config load failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	srv := &server{
		store: store,
		cfg:   cfg,
		log:   log,
		feed:  newReviewFeed(),
		orch:  &pipeline.Orchestrator{Store: store, Log: log},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs", srv.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs/file", srv.handleRunFile).Methods(http.MethodPost)
	r.HandleFunc("/v1/canonicals", srv.handleListCanonicals).Methods(http.MethodGet)
	r.HandleFunc("/v1/canonicals/{id}/split", srv.handleSplit).Methods(http.MethodPost)
	r.HandleFunc("/v1/canonicals/{id}/merge", srv.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/v1/canonicals/{id}/dismiss", srv.handleDismiss).Methods(http.MethodPost)
	r.HandleFunc("/v1/ws/review-feed", srv.handleReviewFeed)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           loggingMiddleware(log, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info(ctx, "dedupeapi listening", map[string]any{"addr": *addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "listen failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.feed.closeAll()
}

func openStore(ctx context.Context, driver, dsn string) (storage.Store, func() error, error) {
	switch driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		s, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, errors.New("unknown db-driver " + driver)
	}
}

func loadAPIConfig(root string) (config.Config, error) {
	if root == "" {
		return config.Default(), nil
	}
	loader, err := config.NewLoader(root, config.Options{Service: "dedupe"})
	if err != nil {
		return config.Config{}, err
	}
	bundle, err := loader.Load(context.Background())
	if err != nil {
		return config.Config{}, err
	}
	return config.Decode(bundle.Merged)
}

type server struct {
	store storage.Store
	cfg   config.Config
	log   *telemetry.Logger
	feed  *reviewFeed
	orch  *pipeline.Orchestrator
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	components := []telemetry.ComponentStatus{
		s.checkStoreHealth(r.Context(), now),
		s.checkAIResolverHealth(now),
	}

	snapshot, err := telemetry.NewHealthSnapshot("dedupeapi", "", "", components, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "health_snapshot_failed", err.Error())
		return
	}

	status := http.StatusOK
	if snapshot.Overall == telemetry.StatusFatal {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snapshot)
}

// checkStoreHealth exercises the store with a cheap read; any error marks
// the component fatal since nothing downstream can serve without it.
func (s *server) checkStoreHealth(ctx context.Context, now time.Time) telemetry.ComponentStatus {
	if _, err := s.store.MatchDecisions(ctx); err != nil {
		return telemetry.ComponentStatus{Name: "store", Status: telemetry.StatusFatal, CheckedAt: now, Message: err.Error()}
	}
	return telemetry.ComponentStatus{Name: "store", Status: telemetry.StatusOK, CheckedAt: now}
}

// checkAIResolverHealth reports configuration state rather than making a
// live call: a transport check would spend real LLM budget on every health poll.
func (s *server) checkAIResolverHealth(now time.Time) telemetry.ComponentStatus {
	if !s.cfg.AI.Enabled {
		return telemetry.ComponentStatus{Name: "ai_resolver", Status: telemetry.StatusOK, CheckedAt: now, Message: "disabled"}
	}
	if strings.TrimSpace(s.cfg.AI.Model) == "" {
		return telemetry.ComponentStatus{Name: "ai_resolver", Status: telemetry.StatusDegraded, CheckedAt: now, Message: "enabled but no model configured"}
	}
	return telemetry.ComponentStatus{
		Name: "ai_resolver", Status: telemetry.StatusOK, CheckedAt: now,
		Details: map[string]string{"model": s.cfg.AI.Model},
	}
}

type runRequest struct {
	Records []model.Record `json:"records"`
	BatchID string         `json:"batch_id"`
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.BatchID == "" {
		req.BatchID = "api"
	}
	result, err := s.orch.Run(r.Context(), req.Records, s.cfg, req.BatchID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run_failed", err.Error())
		return
	}
	s.broadcastReviewQueue(r.Context())
	writeJSON(w, http.StatusOK, result)
}

type runFileRequest struct {
	Path    string `json:"path"`
	BatchID string `json:"batch_id"`
}

func (s *server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	var req runFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.BatchID == "" {
		req.BatchID = "api"
	}
	result, err := s.orch.Run(r.Context(), records, s.cfg, req.BatchID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run_failed", err.Error())
		return
	}
	s.broadcastReviewQueue(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListCanonicals(w http.ResponseWriter, r *http.Request) {
	needsReviewOnly, _ := strconv.ParseBool(r.URL.Query().Get("needs_review"))
	events, err := s.store.CanonicalEvents(r.Context(), needsReviewOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canonical_events": events})
}

type splitRequest struct {
	Source   string  `json:"source"`
	Target   *string `json:"target,omitempty"`
	Operator string  `json:"operator"`
}

func (s *server) handleSplit(w http.ResponseWriter, r *http.Request) {
	canonicalID := mux.Vars(r)["id"]
	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Source == "" || req.Operator == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and operator are required")
		return
	}
	if err := review.Split(r.Context(), s.store, canonicalID, req.Source, req.Target, req.Operator, time.Now().UTC()); err != nil {
		writeReviewError(w, err)
		return
	}
	s.broadcastReviewQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type mergeRequest struct {
	Target   string `json:"target"`
	Operator string `json:"operator"`
}

func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	sourceCanonicalID := mux.Vars(r)["id"]
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Target == "" || req.Operator == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "target and operator are required")
		return
	}
	if err := review.Merge(r.Context(), s.store, sourceCanonicalID, req.Target, req.Operator, time.Now().UTC()); err != nil {
		writeReviewError(w, err)
		return
	}
	s.broadcastReviewQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type dismissRequest struct {
	Reason   *string `json:"reason,omitempty"`
	Operator string  `json:"operator"`
}

func (s *server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	canonicalID := mux.Vars(r)["id"]
	var req dismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Operator == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "operator is required")
		return
	}
	if err := review.Dismiss(r.Context(), s.store, canonicalID, req.Reason, req.Operator, time.Now().UTC()); err != nil {
		writeReviewError(w, err)
		return
	}
	s.broadcastReviewQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) broadcastReviewQueue(ctx context.Context) {
	events, err := s.store.CanonicalEvents(ctx, true)
	if err != nil {
		s.log.Warn(ctx, "review feed refresh failed", map[string]any{"error": err.Error()})
		return
	}
	s.feed.broadcast(map[string]any{"needs_review": events})
}

func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, storage.ErrInvalidArg):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "review_failed", err.Error())
	}
}

// ---- review feed websocket ----

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type reviewFeed struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newReviewFeed() *reviewFeed {
	return &reviewFeed{clients: make(map[*websocket.Conn]chan []byte)}
}

func (f *reviewFeed) add(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 8)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()
	return ch
}

func (f *reviewFeed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	if ch, ok := f.clients[conn]; ok {
		close(ch)
		delete(f.clients, conn)
	}
	f.mu.Unlock()
}

// broadcast fans a payload out to every connected client. A slow or stuck
// client is dropped rather than blocking the others.
func (f *reviewFeed) broadcast(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- b:
		default:
			close(ch)
			delete(f.clients, conn)
		}
	}
}

func (f *reviewFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		close(ch)
		_ = conn.Close()
		delete(f.clients, conn)
	}
}

func (s *server) handleReviewFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	ch := s.feed.add(conn)
	defer func() {
		s.feed.remove(conn)
		_ = conn.Close()
	}()

	// Send the current queue immediately so a new subscriber doesn't wait
	// for the next write to see anything.
	if events, err := s.store.CanonicalEvents(r.Context(), true); err == nil {
		if b, err := json.Marshal(map[string]any{"needs_review": events}); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
	}

	// Drain inbound messages so the connection's read deadline/pong
	// machinery keeps working; this feed is write-only from the server.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.feed.remove(conn)
				return
			}
		}
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}

func loggingMiddleware(log *telemetry.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info(r.Context(), "http_request", map[string]any{
			"method": r.Method, "path": r.URL.Path, "status": sw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

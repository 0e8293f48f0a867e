package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/codeforge/agents"
	"github.com/lexcodex/codeforge/agents/correction"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/persistence"
)

// DefaultRunTimeout bounds one workflow run started over HTTP.
const DefaultRunTimeout = 30 * time.Minute

// ErrBusy is returned while another run or fix holds the artifact.
var ErrBusy = errors.New("a run is already in progress for this workspace")

// APIServer exposes the workflow executor over HTTP.
type APIServer struct {
	Executor *agents.Executor
	Runs     persistence.RunStore
	Metrics  *Metrics
	Events   *EventHub
	Logger   *slog.Logger
	// RunTimeout defaults to DefaultRunTimeout.
	RunTimeout time.Duration

	busy   sync.Mutex
	wg     sync.WaitGroup
	baseMu sync.Mutex
	base   context.Context
}

// RunRequest is the POST /api/runs payload. Wait blocks until the run ends
// instead of returning as soon as it is accepted.
type RunRequest struct {
	agents.RunRequest
	Wait bool `json:"wait,omitempty"`
}

// RunResponse reports a run and, when it failed, why.
type RunResponse struct {
	Run   *framework.Run `json:"run,omitempty"`
	Error string         `json:"error,omitempty"`
	Hint  string         `json:"hint,omitempty"`
}

// FixRequest is the POST /api/runtime-failures payload.
type FixRequest struct {
	Failure string `json:"failure"`
}

// FixResponse summarises a runtime fix.
type FixResponse struct {
	Fixed    bool     `json:"fixed"`
	Changed  []string `json:"changed,omitempty"`
	Score    int      `json:"score"`
	Attempts int      `json:"attempts"`
	Rejected []string `json:"rejected,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context
// cancellation. Runs started asynchronously are cancelled with ctx.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/artifact", s.handleArtifact)
	mux.HandleFunc("DELETE /api/artifact", s.handleClearArtifact)
	mux.HandleFunc("GET /api/suggestions", s.handleListSuggestions)
	mux.HandleFunc("POST /api/suggestions/{id}/{action}", s.handleSuggestionAction)
	mux.HandleFunc("POST /api/runtime-failures", s.handleRuntimeFailure)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	if s.Events != nil {
		mux.Handle("GET /api/events", s.Events)
	}
	return mux
}

func (s *APIServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *APIServer) baseContext() context.Context {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	if s.base == nil {
		return context.Background()
	}
	return s.base
}

func (s *APIServer) runTimeout() time.Duration {
	if s.RunTimeout <= 0 {
		return DefaultRunTimeout
	}
	return s.RunTimeout
}

func (s *APIServer) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		writeError(w, http.StatusBadRequest, errors.New("request is empty"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !s.busy.TryLock() {
		writeError(w, http.StatusConflict, ErrBusy)
		return
	}

	if req.Wait {
		defer s.busy.Unlock()
		ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout())
		defer cancel()
		run, err := s.Executor.Run(ctx, req.RunRequest)
		writeRun(w, run, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Unlock()
		ctx, cancel := context.WithTimeout(s.baseContext(), s.runTimeout())
		defer cancel()
		if _, err := s.Executor.Run(ctx, req.RunRequest); err != nil {
			s.logger().Warn("run failed", "run", req.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID, "status": string(framework.RunRunning)})
}

func writeRun(w http.ResponseWriter, run *framework.Run, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, RunResponse{Run: run})
		return
	}
	if run == nil {
		// Rejected before any step ran.
		status := http.StatusInternalServerError
		if errors.Is(err, agents.ErrAgentNotFound) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, RunResponse{Run: run, Error: err.Error(), Hint: framework.RemediationHint(err)})
}

func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeJSON(w, http.StatusOK, []framework.Run{})
		return
	}
	runs, err := s.Runs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *APIServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeError(w, http.StatusNotFound, errors.New("run history is disabled"))
		return
	}
	run, ok, err := s.Runs.Load(r.Context(), r.PathValue("id"))
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case !ok:
		writeError(w, http.StatusNotFound, errors.New("run not found"))
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *APIServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	files, err := s.Executor.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		f, ok := framework.FileIndex(files)[framework.NormalizePath(path)]
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		writeJSON(w, http.StatusOK, f)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *APIServer) handleClearArtifact(w http.ResponseWriter, r *http.Request) {
	if !s.busy.TryLock() {
		writeError(w, http.StatusConflict, ErrBusy)
		return
	}
	defer s.busy.Unlock()
	if err := s.Executor.Store.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	store := s.Executor.Suggestions
	if store == nil {
		writeJSON(w, http.StatusOK, []framework.Suggestion{})
		return
	}
	q := r.URL.Query()
	filter := framework.SuggestionFilter{
		RunID:  q.Get("run"),
		Agent:  q.Get("agent"),
		Status: framework.SuggestionStatus(q.Get("status")),
	}
	list, err := store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []framework.Suggestion{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *APIServer) handleSuggestionAction(w http.ResponseWriter, r *http.Request) {
	store := s.Executor.Suggestions
	if store == nil {
		writeError(w, http.StatusNotFound, errors.New("suggestions are disabled"))
		return
	}
	id := r.PathValue("id")
	var (
		sug framework.Suggestion
		err error
	)
	switch r.PathValue("action") {
	case "approve":
		sug, err = framework.Approve(r.Context(), store, id)
	case "reject":
		sug, err = framework.Reject(r.Context(), store, id)
	case "apply":
		if !s.busy.TryLock() {
			writeError(w, http.StatusConflict, ErrBusy)
			return
		}
		sug, err = s.Executor.ApplySuggestion(r.Context(), id)
		s.busy.Unlock()
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown action"))
		return
	}
	if err != nil {
		writeError(w, suggestionStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

func suggestionStatus(err error) int {
	var (
		transition *framework.TransitionError
		invalid    *framework.InvalidPathError
	)
	switch {
	case errors.Is(err, framework.ErrSuggestionNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, agents.ErrNothingToApply), errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *APIServer) handleRuntimeFailure(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Failure) == "" {
		writeError(w, http.StatusBadRequest, correction.ErrEmptyFailure)
		return
	}
	if !s.busy.TryLock() {
		writeError(w, http.StatusConflict, ErrBusy)
		return
	}
	defer s.busy.Unlock()
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout())
	defer cancel()
	out, err := s.Executor.FixRuntimeFailure(ctx, req.Failure)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	resp := FixResponse{
		Fixed:    out.Fixed,
		Changed:  out.Changed,
		Score:    out.Result.Score,
		Attempts: len(out.Attempts),
	}
	for _, a := range out.Attempts {
		if a.Rejected != "" {
			resp.Rejected = append(resp.Rejected, a.Rejected)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Hint: framework.RemediationHint(err)})
}

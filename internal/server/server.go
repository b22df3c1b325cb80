package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/copyleftdev/promptforge/internal/config"
	apierrors "github.com/copyleftdev/promptforge/internal/errors"
	"github.com/copyleftdev/promptforge/internal/logging"
	"github.com/copyleftdev/promptforge/internal/optimization"
	"github.com/copyleftdev/promptforge/internal/prompt"
	"github.com/copyleftdev/promptforge/internal/report"
	"github.com/copyleftdev/promptforge/internal/store"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Optimizer runs one optimization. *optimization.Engine satisfies it.
type Optimizer interface {
	Optimize(ctx context.Context, initialPrompt string, maxIterations int) (*optimization.Result, error)
}

// AttemptLog reads back recorded attempts. *store.CSV satisfies it.
type AttemptLog interface {
	ReadAll() ([]store.Record, error)
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// OptimizationState tracks one optimization job. Fields are guarded by the
// server's mutex.
type OptimizationState struct {
	ID            string
	Status        string
	Input         string
	Prompt        string
	MaxIterations int
	StartTime     time.Time
	EndTime       *time.Time
	LastUpdated   time.Time
	History       []optimization.Attempt
	Best          *optimization.Attempt
	Result        *optimization.Result
	Error         string
	CancelFunc    context.CancelFunc
}

func (s *OptimizationState) terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Option configures a Server.
type Option func(*Server)

// WithTemplate wraps job input in tmpl when the request asks for it.
func WithTemplate(tmpl *prompt.Template) Option {
	return func(s *Server) { s.template = tmpl }
}

// WithAttemptLog exposes recorded attempts at /api/v1/log.
func WithAttemptLog(log AttemptLog) Option {
	return func(s *Server) { s.attemptLog = log }
}

// Server implements the HTTP and JSON-RPC API for prompt optimization jobs.
// At most cfg.Optimization.WorkerCount jobs run at once; the rest wait as
// pending.
type Server struct {
	cfg        *config.Config
	logger     Logger
	optimizer  Optimizer
	template   *prompt.Template
	attemptLog AttemptLog
	validate   *validator.Validate

	workers chan struct{}
	wg      sync.WaitGroup

	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, logger Logger, optimizer Optimizer, opts ...Option) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		optimizer:     optimizer,
		template:      prompt.Default(),
		validate:      validator.New(),
		workers:       make(chan struct{}, workers),
		optimizations: make(map[string]*OptimizationState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/log", s.handleLog)
		r.Get("/compare", s.handleCompare)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

// StartRequest is the payload of optimization.start and POST /optimize.
type StartRequest struct {
	Prompt      string `json:"prompt" validate:"required"`
	Iterations  int    `json:"iterations" validate:"min=0"`
	UseTemplate bool   `json:"use_template"`
}

type idRequest struct {
	OptimizationID string `json:"optimization_id" validate:"required"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var params json.RawMessage
	if len(request.Params) > 0 {
		params = request.Params[0]
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var req StartRequest
		if err = s.decodeParams(params, &req); err == nil {
			result, err = s.startOptimization(req)
		}
	case "optimization.status":
		var req idRequest
		if err = s.decodeParams(params, &req); err == nil {
			result, err = s.optimizationStatus(req.OptimizationID)
		}
	case "optimization.cancel":
		var req idRequest
		if err = s.decodeParams(params, &req); err == nil {
			err = s.cancelOptimization(req.OptimizationID)
			result = map[string]string{"status": "cancellation requested"}
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := rpcServerError
		if apiErr := apierrors.From(err); apiErr.Status < http.StatusInternalServerError {
			code = rpcInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return apierrors.BadRequest("missing required parameters")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apierrors.BadRequest("invalid parameter format: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return apierrors.BadRequest("invalid parameters: %v", err)
	}
	return nil
}

// startOptimization registers a job and starts it in the background.
func (s *Server) startOptimization(req StartRequest) (map[string]interface{}, error) {
	input := strings.TrimSpace(req.Prompt)
	if input == "" {
		return nil, apierrors.BadRequest("prompt is required")
	}

	iterations := req.Iterations
	if iterations == 0 {
		iterations = s.cfg.Optimization.DefaultIterations
	}
	if iterations < 1 || iterations > s.cfg.Optimization.MaxIterations {
		return nil, apierrors.BadRequest("iterations must be between 1 and %d", s.cfg.Optimization.MaxIterations)
	}

	text := input
	if req.UseTemplate && s.template != nil {
		text = s.template.Format(input)
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	state := &OptimizationState{
		ID:            id,
		Status:        StatusPending,
		Input:         input,
		Prompt:        text,
		MaxIterations: iterations,
		StartTime:     now,
		LastUpdated:   now,
		CancelFunc:    cancel,
	}

	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.wg.Add(1)
	go s.runOptimization(ctx, state)

	s.logger.Info("Optimization queued", map[string]interface{}{
		"optimization_id": id,
		"iterations":      iterations,
	})

	return map[string]interface{}{
		"optimization_id": id,
		"status":          StatusPending,
	}, nil
}

// optimizationStatus returns a snapshot of a job.
func (s *Server) optimizationStatus(id string) (map[string]interface{}, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return nil, apierrors.NotFound("optimization %s not found", id)
	}

	response := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
		"progress":        float64(len(state.History)) / float64(state.MaxIterations),
		"prompt":          state.Prompt,
		"max_iterations":  state.MaxIterations,
		"iterations":      len(state.History),
		"start_time":      state.StartTime.Format(time.RFC3339),
		"last_update":     state.LastUpdated.Format(time.RFC3339),
	}

	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.Best != nil {
		response["best"] = attemptSummary(*state.Best)
	}

	if len(state.History) > 0 {
		history := make([]map[string]interface{}, len(state.History))
		for i, a := range state.History {
			history[i] = attemptSummary(a)
		}
		response["history"] = history
	}

	if res := state.Result; res != nil {
		response["final_prompt"] = res.FinalPrompt
		response["best_score"] = res.BestScore()
		response["converged"] = res.Converged
	}
	if state.Status == StatusCompleted {
		response["progress"] = 1.0
	}
	return response, nil
}

func attemptSummary(a optimization.Attempt) map[string]interface{} {
	out := map[string]interface{}{
		"iteration": a.Iteration,
		"prompt":    a.Prompt,
	}
	if a.Failed() {
		out["error"] = a.Err
		return out
	}
	out["score"] = a.Aggregate()
	out["variant"] = a.Scores.Variant()
	if a.Image.URL != "" {
		out["image_url"] = a.Image.URL
	}
	if a.Feedback != nil && a.Feedback.Reasoning != "" {
		out["reasoning"] = a.Feedback.Reasoning
	}
	return out
}

// cancelOptimization stops a pending or running job. The job keeps whatever
// attempts it finished.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return apierrors.NotFound("optimization %s not found", id)
	}
	if state.terminal() {
		return apierrors.BadRequest("cannot cancel optimization with status: %s", state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// runOptimization waits for a worker slot and runs the job.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState) {
	defer s.wg.Done()

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		s.optimizationsMu.Lock()
		if !state.terminal() {
			state.Status = StatusCancelled
			now := time.Now()
			state.EndTime = &now
			state.LastUpdated = now
		}
		s.optimizationsMu.Unlock()
		return
	}

	s.optimizationsMu.Lock()
	if state.terminal() {
		s.optimizationsMu.Unlock()
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.optimizationsMu.Unlock()

	ctx = optimization.ContextWithRunID(ctx, state.ID)
	ctx = optimization.ContextWithIterationCallback(ctx, func(_ int, attempt optimization.Attempt) {
		s.optimizationsMu.Lock()
		defer s.optimizationsMu.Unlock()
		state.History = append(state.History, attempt)
		if !attempt.Failed() && (state.Best == nil || attempt.Aggregate() > state.Best.Aggregate()) {
			best := attempt
			state.Best = &best
		}
		state.LastUpdated = time.Now()
	})

	result, err := s.optimizer.Optimize(ctx, state.Prompt, state.MaxIterations)

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	if result != nil {
		state.Result = result
		state.History = result.History
		state.Best = result.Best
	}

	switch {
	case state.Status == StatusCancelled:
	case err != nil && ctx.Err() != nil:
		// Server shutdown.
		state.Status = StatusCancelled
	case err != nil:
		s.logger.Error("Optimization failed", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
		state.Status = StatusFailed
		state.Error = err.Error()
	default:
		state.Status = StatusCompleted
	}

	now := time.Now()
	if state.EndTime == nil {
		state.EndTime = &now
	}
	state.LastUpdated = now
}

// Close cancels every job and waits for them to stop.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.wg.Wait()
	return nil
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSON(w, apierrors.BadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.startOptimization(req)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleLog handles GET /api/v1/log, optionally filtered by ?run_id=.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.attemptLog == nil {
		apierrors.WriteJSON(w, apierrors.NotFound("attempt log is not configured"))
		return
	}

	records, err := s.attemptLog.ReadAll()
	if err != nil {
		apierrors.WriteJSON(w, apierrors.Internal(err, "failed to read attempt log"))
		return
	}

	if runID := r.URL.Query().Get("run_id"); runID != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.RunID == runID {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// handleCompare handles GET /api/v1/compare over finished jobs.
func (s *Server) handleCompare(w http.ResponseWriter, _ *http.Request) {
	s.optimizationsMu.RLock()
	results := make([]*optimization.Result, 0, len(s.optimizations))
	for _, state := range s.optimizations {
		if state.Result != nil {
			results = append(results, state.Result)
		}
	}
	s.optimizationsMu.RUnlock()

	writeJSON(w, http.StatusOK, report.Compare(results))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"Plugweave/internal/chain"
	"Plugweave/internal/engine"
	xerrors "Plugweave/internal/errors"
	"Plugweave/internal/observability/metrics"
)

// Server exposes the engine over HTTP.
type Server struct {
	addr   string
	engine *engine.Engine
}

// NewServer builds an API server bound to an engine.
func NewServer(addr string, e *engine.Engine) *Server {
	return &Server{addr: addr, engine: e}
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", s.instrument("query", s.handleQuery))
	mux.HandleFunc("/api/v1/chains", s.instrument("chains", s.handleChains))
	mux.HandleFunc("/api/v1/chains/", s.instrument("chain_detail", s.handleChainDetail))
	mux.HandleFunc("/api/v1/suggestions", s.instrument("suggestions", s.handleSuggestions))
	return mux
}

type queryRequest struct {
	Goal  string `json:"goal"`
	Limit int    `json:"limit"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid request body"))
		return
	}
	candidates := s.engine.Query(r.Context(), req.Goal, req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type buildRequest struct {
	Goal         string         `json:"goal"`
	Available    []string       `json:"available,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Mode         string         `json:"mode,omitempty"`
	UserOverride bool           `json:"user_override,omitempty"`
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid request body"))
		return
	}
	built, err := s.engine.BuildChain(r.Context(), chain.BuildRequest{
		Goal:         req.Goal,
		Available:    req.Available,
		Input:        req.Input,
		Mode:         chain.ParseMode(req.Mode),
		Origin:       r.RemoteAddr,
		UserOverride: req.UserOverride,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, built)
}

type runRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

type runResponse struct {
	ChainID string         `json:"chain_id"`
	Context map[string]any `json:"context"`
	Error   string         `json:"error,omitempty"`
}

// handleChainDetail serves /api/v1/chains/{id} and /api/v1/chains/{id}/run.
func (s *Server) handleChainDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/chains/")
	if rest == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "chain id is required"))
		return
	}
	chainID, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "run" && r.Method == http.MethodPost:
		s.handleRun(w, r, chainID)
	case action == "" && r.Method == http.MethodGet:
		status, err := s.engine.ChainStatus(chainID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case action == "" && r.Method == http.MethodDelete:
		if !s.engine.CleanupChain(chainID) {
			writeError(w, xerrors.New(xerrors.CodeNotFound, "chain not found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": chainID})
	default:
		http.Error(w, "unsupported method or path", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, chainID string) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid request body"))
			return
		}
	}
	result, err := s.engine.RunChain(r.Context(), chainID, req.Input)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			writeError(w, err)
			return
		}
		// Completed work travels with the error so it is never silently lost.
		writeJSON(w, http.StatusInternalServerError, runResponse{
			ChainID: chainID,
			Context: result,
			Error:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{ChainID: chainID, Context: result})
}

type suggestRequest struct {
	Input     string   `json:"input"`
	Available []string `json:"available,omitempty"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid request body"))
		return
	}
	suggestions := s.engine.SuggestChains(r.Context(), req.Input, req.Available)
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorResponse{Code: string(code), Message: err.Error()})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeBlocked:
		return http.StatusForbidden
	case xerrors.CodeBuildFailure:
		return http.StatusUnprocessableEntity
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

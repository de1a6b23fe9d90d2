package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/interpreter"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/runner"
	"github.com/nstogner/smartmodel/pkg/store"
	"github.com/nstogner/smartmodel/pkg/structured"
)

const defaultListLimit = 50

var errHistoryDisabled = errors.New("history is disabled")

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Client == nil {
		s.jsonResponse(w, http.StatusOK, []domain.Model{})
		return
	}
	lister, ok := s.cfg.Client.(model.Lister)
	if !ok {
		s.jsonResponse(w, http.StatusOK, []domain.Model{{ID: s.cfg.Client.Name(), Name: s.cfg.Client.Name()}})
		return
	}
	models, err := lister.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}

func (s *Server) handleListShapes(w http.ResponseWriter, r *http.Request) {
	names := s.cfg.Registry.Names()
	sort.Strings(names)
	s.jsonResponse(w, http.StatusOK, names)
}

// --- Generation ---

type generateRequest struct {
	Shape     string `json:"shape"`
	Prompt    string `json:"prompt"`
	RequestID string `json:"request_id,omitempty"`
}

type generateResponse struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Client == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("no model configured"))
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	shape, ok := s.cfg.Registry.Get(req.Shape)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("unknown shape %q", req.Shape))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	gen := structured.New[any](s.cfg.Client, shape, s.generatorOptions()...)
	text, ok, err := gen.GenerateJSON(r.Context(), req.Prompt, structured.WithRequestID(req.RequestID))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.jsonResponse(w, http.StatusUnprocessableEntity, generateResponse{
			RequestID: req.RequestID,
			Error:     "retry budget exhausted without a valid response",
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, generateResponse{RequestID: req.RequestID, OK: true, Value: json.RawMessage(text)})
}

func (s *Server) generatorOptions() []structured.Option {
	opts := []structured.Option{structured.WithLogger(s.cfg.Logger), structured.WithMetrics(s.cfg.Metrics)}
	if s.cfg.Events != nil {
		opts = append(opts, structured.WithSubject(s.cfg.Events))
	}
	if s.cfg.Store != nil {
		opts = append(opts, structured.WithRecorder(s.cfg.Store))
	}
	return append(opts, s.cfg.GeneratorOptions...)
}

// --- Execution ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("no interpreter configured"))
		return
	}
	var src interpreter.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if src.Code == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	resp, err := s.cfg.Runner.Execute(r.Context(), src)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("no interpreter configured"))
		return
	}
	s.cfg.Runner.Kill()
	w.WriteHeader(http.StatusNoContent)
}

// --- Orchestrator ---

type runRequest struct {
	Request   string `json:"request"`
	RequestID string `json:"request_id,omitempty"`
}

type runResponse struct {
	Result *runner.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("no interpreter configured"))
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Request == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("request is required"))
		return
	}

	var opts []runner.RunOption
	if req.RequestID != "" {
		opts = append(opts, runner.WithRequestID(req.RequestID))
	}
	res, err := s.cfg.Runner.Run(r.Context(), req.Request, opts...)

	var execErr *interpreter.ExecutionError
	switch {
	case err == nil:
		s.jsonResponse(w, http.StatusOK, runResponse{Result: res})
	case errors.Is(err, runner.ErrNoPlan), errors.As(err, &execErr):
		s.jsonResponse(w, http.StatusUnprocessableEntity, runResponse{Result: res, Error: err.Error()})
	default:
		s.errorResponse(w, http.StatusInternalServerError, err)
	}
}

// --- History ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.errorResponse(w, http.StatusNotFound, errHistoryDisabled)
		return
	}
	limit, err := queryLimit(r, defaultListLimit)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.cfg.Store.ListExecutions(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	s.jsonResponse(w, http.StatusOK, recs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.errorResponse(w, http.StatusNotFound, errHistoryDisabled)
		return
	}
	rec, err := s.cfg.Store.GetExecution(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.errorResponse(w, http.StatusNotFound, errHistoryDisabled)
		return
	}
	limit, err := queryLimit(r, defaultListLimit)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.cfg.Store.ListGenerations(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []domain.GenerationRecord{}
	}
	s.jsonResponse(w, http.StatusOK, recs)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package decisionapi exposes the policy engine over HTTP as a decision
// point. Every endpoint takes a JSON policy context and answers with the
// engine's result; callers stay responsible for fetching and storing
// records.
package decisionapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rowguard/rowguard/internal/access/fieldmask"
	"github.com/rowguard/rowguard/internal/access/policy/types"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Engine is the subset of the policy engine the API serves.
type Engine interface {
	Decide(ctx context.Context, pc types.PolicyContext) types.Decision
	ApplyRowFilter(ctx context.Context, pc types.PolicyContext) types.RowFilter
	FilterRows(ctx context.Context, pc types.PolicyContext, rows []map[string]any) []map[string]any
	AllowedFields(ctx context.Context, pc types.PolicyContext) types.AllowedFields
	ComputeFields(ctx context.Context, pc types.PolicyContext, record map[string]any) map[string]any
}

// DecisionResponse is the body returned by /v1/decide.
type DecisionResponse struct {
	Allowed     bool         `json:"allowed"`
	Effect      types.Effect `json:"effect"`
	Reason      string       `json:"reason"`
	PolicyKey   string       `json:"policy,omitempty"`
	FailureKind string       `json:"failure_kind,omitempty"`
}

// NewDecisionResponse converts an engine decision.
func NewDecisionResponse(d types.Decision) DecisionResponse {
	return DecisionResponse{
		Allowed:     d.IsAllowed(),
		Effect:      d.Effect,
		Reason:      d.Reason,
		PolicyKey:   d.PolicyKey,
		FailureKind: string(d.FailureKind),
	}
}

type rowsRequest struct {
	Context types.PolicyContext `json:"context"`
	Rows    []map[string]any    `json:"rows"`
}

type recordRequest struct {
	Context types.PolicyContext `json:"context"`
	Record  map[string]any      `json:"record"`
}

type writableResponse struct {
	Input   map[string]any `json:"input"`
	Dropped []string       `json:"dropped"`
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler returns the router for the /v1 decision endpoints.
func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)
	r.Post("/v1/decide", h.decide)
	r.Post("/v1/row-filter", h.rowFilter)
	r.Post("/v1/fields", h.fields)
	r.Post("/v1/filter-rows", h.filterRows)
	r.Post("/v1/mask", h.mask)
	r.Post("/v1/writable", h.writable)
	return r
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (h *handler) decide(w http.ResponseWriter, r *http.Request) {
	var pc types.PolicyContext
	if !h.decode(w, r, &pc) {
		return
	}
	h.write(w, http.StatusOK, NewDecisionResponse(h.engine.Decide(r.Context(), pc)))
}

func (h *handler) rowFilter(w http.ResponseWriter, r *http.Request) {
	var pc types.PolicyContext
	if !h.decode(w, r, &pc) {
		return
	}
	h.write(w, http.StatusOK, h.engine.ApplyRowFilter(r.Context(), pc))
}

func (h *handler) fields(w http.ResponseWriter, r *http.Request) {
	var pc types.PolicyContext
	if !h.decode(w, r, &pc) {
		return
	}
	h.write(w, http.StatusOK, h.engine.AllowedFields(r.Context(), pc))
}

func (h *handler) filterRows(w http.ResponseWriter, r *http.Request) {
	var req rowsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.write(w, http.StatusOK, h.engine.FilterRows(r.Context(), req.Context, req.Rows))
}

// mask computes server-side fields and then strips everything the caller
// may not read.
func (h *handler) mask(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed := h.engine.AllowedFields(r.Context(), req.Context)
	record := h.engine.ComputeFields(r.Context(), req.Context, req.Record)
	h.write(w, http.StatusOK, fieldmask.MaskResponse(record, allowed.Read))
}

func (h *handler) writable(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed := h.engine.AllowedFields(r.Context(), req.Context)
	dropped := fieldmask.Dropped(req.Record, allowed.Write)
	if dropped == nil {
		dropped = []string{}
	}
	h.write(w, http.StatusOK, writableResponse{
		Input:   fieldmask.FilterWritable(req.Record, allowed.Write),
		Dropped: dropped,
	})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.logger.DebugContext(r.Context(), "rejected request body", "path", r.URL.Path, "error", err)
		h.write(w, status, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("write response failed", "error", err)
	}
}

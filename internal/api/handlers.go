// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/compiler"
	"github.com/colebrumley/cortex/internal/perception"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/state"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).Truncate(time.Second).String(),
		"rules_loaded": len(s.deps.Rules.List()),
		"rules_active": len(s.deps.Rules.Active()),
	}
	if s.deps.Cycles != nil {
		resp["state"] = s.deps.Cycles.State().String()
		resp["cycles_refused"] = s.deps.Cycles.Refused()
		if last, ok := s.deps.Cycles.Last(); ok {
			resp["last_cycle"] = last
		}
	}
	if s.deps.Bridge != nil {
		resp["extension"] = s.deps.Bridge.Status(s.deps.Freshness)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Rules.List()
	if r.URL.Query().Get("active") == "true" {
		list = s.deps.Rules.Active()
	}
	if list == nil {
		list = []rules.Rule{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.ruleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule := rules.Rule{IsActive: true}
	if err := decodeJSON(w, r, &rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if rule.ID == "" {
		rule.ID = rules.NewID()
	}
	rule.Source = rules.SourceAPI
	rule.CreatedAt = time.Time{}

	if err := s.deps.Rules.Add(rule); err != nil {
		s.ruleError(w, err)
		return
	}
	created, err := s.deps.Rules.Get(rule.ID)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	s.deps.Logger.Info("rule created", "rule_id", created.ID, "name", created.Name)
	respondJSON(w, http.StatusCreated, created)
}

type compileRequest struct {
	Text string `json:"text"`
	Save bool   `json:"save"`
}

func (s *Server) handleCompileRule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Compiler == nil {
		respondError(w, http.StatusServiceUnavailable, "rule compiler not configured", nil)
		return
	}
	var req compileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.deps.Compiler.Compile(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, compiler.ErrRejected) {
			respondError(w, http.StatusUnprocessableEntity, "compiled rule rejected", err)
			return
		}
		respondError(w, http.StatusBadGateway, "rule compilation failed", err)
		return
	}

	if !req.Save {
		respondJSON(w, http.StatusOK, rule)
		return
	}
	if err := s.deps.Rules.Add(rule); err != nil {
		s.ruleError(w, err)
		return
	}
	s.deps.Logger.Info("compiled rule saved", "rule_id", rule.ID, "name", rule.Name)
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := s.deps.Rules.Toggle(id)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	s.deps.Logger.Info("rule toggled", "rule_id", id, "is_active", active)
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := s.deps.Rules.Get(id)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	if rule.Source == rules.SourceFile {
		respondError(w, http.StatusConflict,
			fmt.Sprintf("rule %s is defined in the rules directory; delete its file instead", id), nil)
		return
	}
	if err := s.deps.Rules.Remove(id); err != nil {
		s.ruleError(w, err)
		return
	}
	s.deps.Logger.Info("rule deleted", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ruleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.Is(err, rules.ErrDuplicateID):
		respondError(w, http.StatusConflict, "rule id already exists", err)
	case errors.Is(err, rules.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, "invalid rule", err)
	default:
		respondError(w, http.StatusInternalServerError, "rule store failure", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		respondError(w, http.StatusServiceUnavailable, "event storage not available", nil)
		return
	}
	limit := queryLimit(r, 50, 500)

	var (
		events []activity.Event
		err    error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		events, err = s.deps.Events.SearchEvents(r.Context(), q, limit)
	} else {
		events, err = s.deps.Events.RecentEvents(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "querying events", err)
		return
	}
	if events == nil {
		events = []activity.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondJSON(w, http.StatusOK, []state.ActionRecord{})
		return
	}
	records, err := s.deps.History.GetHistory(r.Context(), r.URL.Query().Get("rule"), queryLimit(r, 50, 500))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "querying history", err)
		return
	}
	if records == nil {
		records = []state.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := []action.BlockStatus{}
	if s.deps.Blocks != nil {
		blocks = append(blocks, s.deps.Blocks.Active()...)
	}
	respondJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleExtensionData(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		respondError(w, http.StatusServiceUnavailable, "extension bridge disabled", nil)
		return
	}
	var msg perception.ExtensionMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	log, err := s.deps.Bridge.Record(msg)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid extension message", err)
		return
	}
	s.deps.Metrics.ExtensionLog()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "received",
		"timestamp": int64(log.Timestamp),
	})
}

func (s *Server) handleExtensionStatus(w http.ResponseWriter, r *http.Request) {
	connected := 0
	if s.deps.Bridge != nil && s.deps.Bridge.Status(s.deps.Freshness).Connected {
		connected = 1
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"connected_extensions": connected,
		"server_status":        "running",
	})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

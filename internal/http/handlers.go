package http

import (
	"context"
	"net/http"
	"time"

	applog "feeledger/internal/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleReady reports ready only while the ledger store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyWait)
	defer cancel()

	checks := map[string]string{"storage": "ok"}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		checks["storage"] = err.Error()
		status = http.StatusServiceUnavailable
		applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", applog.FieldError, err.Error())
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.Sessions(r.Context())
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, newSessionView(sess))
	}
	writeJSON(w, http.StatusOK, newList(views))
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.CurrentSession(r.Context())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	report, err := s.service.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpPromote, err)
		return
	}
	sess, err := s.service.RolloverSession(r.Context(), req.FromSessionID, req.ToSessionID)
	if err != nil {
		writeError(w, r, applog.OpPromote, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handlePromote carries one student forward, or the whole session when the
// body names no student.
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpPromote, err)
		return
	}

	if req.StudentID == 0 {
		res, err := s.service.PromoteSession(r.Context(), req.FromSessionID, req.ToSessionID)
		if err != nil {
			writeError(w, r, applog.OpPromote, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	p, created, err := s.service.PromoteStudent(r.Context(), req.FromSessionID, req.ToSessionID, req.StudentID)
	if err != nil {
		writeError(w, r, applog.OpPromote, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, promotionResponse{Promotion: p, Created: created})
}

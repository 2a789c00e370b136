package http

import (
	"net/http"

	"feeledger/internal/core"
	applog "feeledger/internal/log"
)

func (s *Server) handleIssueReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpIssue, err)
		return
	}
	receipt, err := s.service.IssueReceipt(r.Context(), req.issueRequest())
	if err != nil {
		writeError(w, r, applog.OpIssue, err)
		return
	}
	s.logReceipt(r, applog.OpIssue, receipt)
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleVoidReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpVoid, err)
		return
	}
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpVoid, err)
		return
	}
	receipt, err := s.service.VoidReceipt(r.Context(), id, sanitizeInput(req.Reason))
	if err != nil {
		writeError(w, r, applog.OpVoid, err)
		return
	}
	s.logReceipt(r, applog.OpVoid, receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	receipt, err := s.service.GetReceipt(r.Context(), id)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleListReceipts lists a student's receipts when student_id is given,
// otherwise the session's receipts issued in [from, to).
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID, err := queryID(q, "session_id", true)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	studentID, err := queryID(q, "student_id", false)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}

	var receipts []core.Receipt
	if studentID != 0 {
		receipts, err = s.service.StudentReceipts(r.Context(), studentID, sessionID)
	} else {
		from, ferr := queryTime(q, "from")
		to, terr := queryTime(q, "to")
		if ferr != nil || terr != nil {
			writeError(w, r, applog.OpList, badRequest("invalid from/to range"))
			return
		}
		receipts, err = s.service.ListReceipts(r.Context(), sessionID, from, to)
	}
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(receipts))
}

// handleAudit pages through the audit trail newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(q, 50, 500)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	since, err := queryTime(q, "since")
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	until, err := queryTime(q, "until")
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}

	filter := core.AuditFilter{
		EntityType: core.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Action:     core.AuditAction(q.Get("action")),
		Since:      since,
		Until:      endOfDay(until),
		Limit:      limit,
	}

	records := make([]core.AuditLog, 0, limit)
	for rec, err := range s.service.History(r.Context(), filter) {
		if err != nil {
			writeError(w, r, applog.OpList, err)
			return
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, newList(records))
}

func (s *Server) logReceipt(r *http.Request, op string, rc core.Receipt) {
	sl := applog.NewStructuredLogger(applog.FromContext(r.Context()))
	sl.LogReceiptIssued(r.Context(), op, rc.ID, rc.Number, rc.SessionID, rc.Net.Cents)
}

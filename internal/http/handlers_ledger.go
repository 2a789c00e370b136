package http

import (
	"net/http"

	"feeledger/internal/core"
	applog "feeledger/internal/log"
)

func (s *Server) handlePostAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	entry, err := s.service.PostAdjustment(r.Context(), req.draft())
	if err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	s.logEntry(r, applog.OpPost, entry)
	writeJSON(w, http.StatusCreated, entry)
}

// handlePostDue charges a month. Repeating the call is safe: the live due
// comes back with created=false.
func (s *Server) handlePostDue(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	month, _ := parseMonth(req.Month)
	entry, created, err := s.service.PostMonthlyDue(r.Context(), req.StudentID, req.SessionID, month)
	if err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	s.writeCharge(w, r, entry, created)
}

func (s *Server) handlePostAdmissionFee(w http.ResponseWriter, r *http.Request) {
	var req admissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	entry, created, err := s.service.PostAdmissionFee(r.Context(), req.StudentID, req.SessionID)
	if err != nil {
		writeError(w, r, applog.OpPost, err)
		return
	}
	s.writeCharge(w, r, entry, created)
}

// writeCharge answers 201 for a new charge, 200 for one already posted and
// 200 with a null entry when the charge resolved to zero.
func (s *Server) writeCharge(w http.ResponseWriter, r *http.Request, entry core.LedgerEntry, created bool) {
	resp := chargeResponse{Created: created}
	if entry.ID != 0 {
		resp.Entry = &entry
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logEntry(r, applog.OpPost, entry)
	}
	writeJSON(w, status, resp)
}

// handleAmountDue previews what a month would charge, without posting it.
func (s *Server) handleAmountDue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID, err := queryID(q, "student_id", true)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	sessionID, err := queryID(q, "session_id", true)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	month, err := queryMonth(q, "month")
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	if month == 0 {
		writeError(w, r, applog.OpRead, badRequest("missing month"))
		return
	}

	due, err := s.service.AmountDue(r.Context(), studentID, sessionID, month)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, due)
}

// handleBalance recomputes a balance from the entry log, optionally as of
// the end of a given date.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID, err := queryID(q, "student_id", true)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	sessionID, err := queryID(q, "session_id", true)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	asOf, err := queryTime(q, "as_of")
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}

	bal, err := s.service.BalanceAsOf(r.Context(), studentID, sessionID, endOfDay(asOf))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID, err := queryID(q, "student_id", true)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	sessionID, err := queryID(q, "session_id", true)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	entries, err := s.service.Entries(r.Context(), studentID, sessionID)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(entries))
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	entry, err := s.service.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpReverse, err)
		return
	}
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpReverse, err)
		return
	}
	reversal, err := s.service.ReverseEntry(r.Context(), id, sanitizeInput(req.Reason))
	if err != nil {
		writeError(w, r, applog.OpReverse, err)
		return
	}
	s.logEntry(r, applog.OpReverse, reversal)
	writeJSON(w, http.StatusCreated, reversal)
}

func (s *Server) handleRestoreEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, applog.OpRestore, err)
		return
	}
	restored, err := s.service.RestoreEntry(r.Context(), id)
	if err != nil {
		writeError(w, r, applog.OpRestore, err)
		return
	}
	s.logEntry(r, applog.OpRestore, restored)
	writeJSON(w, http.StatusCreated, restored)
}

func (s *Server) logEntry(r *http.Request, op string, e core.LedgerEntry) {
	sl := applog.NewStructuredLogger(applog.FromContext(r.Context()))
	sl.LogEntryPosted(r.Context(), op, e.ID, e.StudentID, e.SessionID, string(e.Kind), e.Amount.Cents)
}

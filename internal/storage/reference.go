package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feeledger/internal/core"
)

// Reference data writers. The ledger only reads these tables; the writers
// exist for the enrollment subsystem, seeding and tests.

func (s *Store) CreateSession(ctx context.Context, sess core.AcademicSession) (core.AcademicSession, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO academic_sessions (name, start_at, end_at, is_current, archived) VALUES (?, ?, ?, ?, ?)`,
			sess.Name, nanos(sess.Start), nanos(sess.End), boolInt(sess.IsCurrent), boolInt(sess.Archived))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		sess.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.AcademicSession{}, fmt.Errorf("create session %q: %w", sess.Name, err)
	}
	slog.InfoContext(ctx, "Academic session created", "id", sess.ID, "name", sess.Name, "current", sess.IsCurrent)
	return sess, nil
}

// ArchiveSession marks a session read-only for new postings.
func (s *Store) ArchiveSession(ctx context.Context, sessionID int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q.ExecContext(ctx, `UPDATE academic_sessions SET archived = 1 WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("archive session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrSessionNotFound
		}
		return nil
	})
}

func (s *Store) CreateStudent(ctx context.Context, st core.Student) (core.Student, error) {
	if st.AdmittedAt.IsZero() {
		st.AdmittedAt = s.Now()
	}
	err := s.WithTx(ctx, func(tx *Tx) error {
		var admission sql.NullInt64
		if st.AdmissionSessionID > 0 {
			admission = sql.NullInt64{Int64: st.AdmissionSessionID, Valid: true}
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO students (admission_number, name, admission_session_id, admitted_at, active) VALUES (?, ?, ?, ?, ?)`,
			st.AdmissionNumber, st.Name, admission, nanos(st.AdmittedAt), boolInt(st.Active))
		if err != nil {
			return fmt.Errorf("insert student: %w", err)
		}
		st.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.Student{}, fmt.Errorf("create student %q: %w", st.AdmissionNumber, err)
	}
	return st, nil
}

// SetStudentActive toggles the active flag owned by the enrollment subsystem.
func (s *Store) SetStudentActive(ctx context.Context, studentID int64, active bool) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q.ExecContext(ctx, `UPDATE students SET active = ? WHERE id = ?`, boolInt(active), studentID)
		if err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrStudentNotFound
		}
		return nil
	})
}

func (s *Store) Enroll(ctx context.Context, e core.Enrollment) (core.Enrollment, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO enrollments (student_id, session_id, class, section, effective_from) VALUES (?, ?, ?, ?, ?)`,
			e.StudentID, e.SessionID, e.Class, e.Section, nanos(e.EffectiveFrom))
		if err != nil {
			return fmt.Errorf("insert enrollment: %w", err)
		}
		e.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.Enrollment{}, fmt.Errorf("enroll student %d: %w", e.StudentID, err)
	}
	return e, nil
}

// CreateFeeStructure stores fs as the next version for its class and session.
// Existing versions are left untouched.
func (s *Store) CreateFeeStructure(ctx context.Context, fs core.FeeStructure) (core.FeeStructure, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		fs.CreatedAt = tx.Now()
		if err := tx.q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM fee_structures WHERE class = ? AND session_id = ?`,
			fs.Class, fs.SessionID).Scan(&fs.Version); err != nil {
			return fmt.Errorf("next fee structure version: %w", err)
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO fee_structures (class, session_id, version, admission_fee_cents, created_at) VALUES (?, ?, ?, ?, ?)`,
			fs.Class, fs.SessionID, fs.Version, fs.AdmissionFee.Cents, nanos(fs.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert fee structure: %w", err)
		}
		if fs.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for m, amount := range fs.Tuition {
			if m < time.January || m > time.December {
				return core.ErrInvalidMonth
			}
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO fee_structure_months (fee_structure_id, month, tuition_cents) VALUES (?, ?, ?)`,
				fs.ID, int(m), amount.Cents); err != nil {
				return fmt.Errorf("insert tuition for %s: %w", m, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.FeeStructure{}, fmt.Errorf("create fee structure for class %s: %w", fs.Class, err)
	}
	slog.InfoContext(ctx, "Fee structure version created",
		"id", fs.ID, "class", fs.Class, "session_id", fs.SessionID, "version", fs.Version)
	return fs, nil
}

// AddTransportFee records a route fee for a date range. An open range
// already present for the route is closed the instant before the new one.
func (s *Store) AddTransportFee(ctx context.Context, f core.TransportFee) (core.TransportFee, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx,
			`UPDATE transport_fees SET effective_to = ? WHERE route = ? AND effective_to IS NULL AND effective_from < ?`,
			nanos(f.EffectiveFrom.Add(-time.Nanosecond)), f.Route, nanos(f.EffectiveFrom)); err != nil {
			return fmt.Errorf("close previous transport fee: %w", err)
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO transport_fees (route, fee_cents, effective_from, effective_to) VALUES (?, ?, ?, ?)`,
			f.Route, f.Fee.Cents, nanos(f.EffectiveFrom), nullNanos(f.EffectiveTo))
		if err != nil {
			return fmt.Errorf("insert transport fee: %w", err)
		}
		f.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.TransportFee{}, fmt.Errorf("add transport fee for route %s: %w", f.Route, err)
	}
	return f, nil
}

func (s *Store) EnrollTransport(ctx context.Context, te core.TransportEnrollment) (core.TransportEnrollment, error) {
	var out core.TransportEnrollment
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.InsertTransportEnrollment(ctx, te)
		return err
	})
	if err != nil {
		return core.TransportEnrollment{}, fmt.Errorf("enroll transport for student %d: %w", te.StudentID, err)
	}
	return out, nil
}

func (s *Store) AddConcession(ctx context.Context, c core.Concession) (core.Concession, error) {
	if err := c.Validate(); err != nil {
		return core.Concession{}, err
	}
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO concessions (student_id, session_id, kind, value, valid_from, valid_to, active, description)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.StudentID, c.SessionID, string(c.Kind), c.Value, nanos(c.ValidFrom), nullNanos(c.ValidTo),
			boolInt(c.Active), c.Description)
		if err != nil {
			return fmt.Errorf("insert concession: %w", err)
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.Concession{}, fmt.Errorf("add concession for student %d: %w", c.StudentID, err)
	}
	return c, nil
}

// Reference data readers.

func (t *Tx) GetStudent(ctx context.Context, id int64) (core.Student, error) {
	var (
		st        core.Student
		admission sql.NullInt64
		admitted  int64
		active    int
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, admission_number, name, admission_session_id, admitted_at, active FROM students WHERE id = ?`, id).
		Scan(&st.ID, &st.AdmissionNumber, &st.Name, &admission, &admitted, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Student{}, core.ErrStudentNotFound
	}
	if err != nil {
		return core.Student{}, fmt.Errorf("get student %d: %w", id, err)
	}
	st.AdmissionSessionID = admission.Int64
	st.AdmittedAt = fromNanos(admitted)
	st.Active = active == 1
	return st, nil
}

const sessionColumns = `id, name, start_at, end_at, is_current, archived`

func scanSession(row interface{ Scan(...any) error }) (core.AcademicSession, error) {
	var (
		s                 core.AcademicSession
		start, end        int64
		current, archived int
	)
	if err := row.Scan(&s.ID, &s.Name, &start, &end, &current, &archived); err != nil {
		return core.AcademicSession{}, err
	}
	s.Start = fromNanos(start)
	s.End = fromNanos(end)
	s.IsCurrent = current == 1
	s.Archived = archived == 1
	return s, nil
}

func (t *Tx) GetSession(ctx context.Context, id int64) (core.AcademicSession, error) {
	s, err := scanSession(t.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM academic_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.AcademicSession{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.AcademicSession{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}

// CurrentSession returns the session flagged current.
func (t *Tx) CurrentSession(ctx context.Context) (core.AcademicSession, error) {
	s, err := scanSession(t.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM academic_sessions WHERE is_current = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return core.AcademicSession{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.AcademicSession{}, fmt.Errorf("get current session: %w", err)
	}
	return s, nil
}

func (t *Tx) ListSessions(ctx context.Context) ([]core.AcademicSession, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+sessionColumns+` FROM academic_sessions ORDER BY start_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []core.AcademicSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetCurrentSession moves the current flag from one session to another.
func (t *Tx) SetCurrentSession(ctx context.Context, from, to int64) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE academic_sessions SET is_current = 0 WHERE id = ?`, from); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `UPDATE academic_sessions SET is_current = 1 WHERE id = ?`, to)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// EnrollmentAt returns the enrollment in effect at the given instant: the
// latest one whose effective_from is not after at.
func (t *Tx) EnrollmentAt(ctx context.Context, studentID, sessionID int64, at time.Time) (core.Enrollment, error) {
	var (
		e    core.Enrollment
		from int64
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, student_id, session_id, class, section, effective_from FROM enrollments
		 WHERE student_id = ? AND session_id = ? AND effective_from <= ?
		 ORDER BY effective_from DESC, id DESC LIMIT 1`,
		studentID, sessionID, nanos(at)).
		Scan(&e.ID, &e.StudentID, &e.SessionID, &e.Class, &e.Section, &from)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Enrollment{}, core.ErrNotEnrolled
	}
	if err != nil {
		return core.Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	e.EffectiveFrom = fromNanos(from)
	return e, nil
}

// SessionStudents lists the students that have an enrollment or a ledger
// entry in the session, in id order.
func (t *Tx) SessionStudents(ctx context.Context, sessionID int64) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT student_id FROM enrollments WHERE session_id = ?
		 UNION
		 SELECT student_id FROM ledger_entries WHERE session_id = ?
		 ORDER BY student_id`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session students: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestFeeStructure returns the highest version for a class and session.
func (t *Tx) LatestFeeStructure(ctx context.Context, class string, sessionID int64) (core.FeeStructure, error) {
	return t.feeStructure(ctx,
		`SELECT id, class, session_id, version, admission_fee_cents, created_at FROM fee_structures
		 WHERE class = ? AND session_id = ? ORDER BY version DESC LIMIT 1`, class, sessionID)
}

func (t *Tx) GetFeeStructure(ctx context.Context, id int64) (core.FeeStructure, error) {
	return t.feeStructure(ctx,
		`SELECT id, class, session_id, version, admission_fee_cents, created_at FROM fee_structures WHERE id = ?`, id)
}

func (t *Tx) feeStructure(ctx context.Context, query string, args ...any) (core.FeeStructure, error) {
	var (
		fs        core.FeeStructure
		admission int64
		created   int64
	)
	err := t.q.QueryRowContext(ctx, query, args...).
		Scan(&fs.ID, &fs.Class, &fs.SessionID, &fs.Version, &admission, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FeeStructure{}, core.ErrConfigurationMissing
	}
	if err != nil {
		return core.FeeStructure{}, fmt.Errorf("get fee structure: %w", err)
	}
	fs.AdmissionFee = core.Money{Cents: admission}
	fs.CreatedAt = fromNanos(created)

	rows, err := t.q.QueryContext(ctx,
		`SELECT month, tuition_cents FROM fee_structure_months WHERE fee_structure_id = ?`, fs.ID)
	if err != nil {
		return core.FeeStructure{}, fmt.Errorf("get tuition months: %w", err)
	}
	defer rows.Close()
	fs.Tuition = make(map[time.Month]core.Money, 12)
	for rows.Next() {
		var month int
		var cents int64
		if err := rows.Scan(&month, &cents); err != nil {
			return core.FeeStructure{}, err
		}
		fs.Tuition[time.Month(month)] = core.Money{Cents: cents}
	}
	return fs, rows.Err()
}

func (t *Tx) InsertTransportEnrollment(ctx context.Context, te core.TransportEnrollment) (core.TransportEnrollment, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO transport_enrollments (student_id, session_id, route, start_at, end_at) VALUES (?, ?, ?, ?, ?)`,
		te.StudentID, te.SessionID, te.Route, nanos(te.Start), nullNanos(te.End))
	if err != nil {
		return core.TransportEnrollment{}, fmt.Errorf("insert transport enrollment: %w", err)
	}
	te.ID, err = res.LastInsertId()
	return te, err
}

// TransportEnrollmentAt returns the transport enrollment covering at, or
// ok=false when the student does not use transport then.
func (t *Tx) TransportEnrollmentAt(ctx context.Context, studentID, sessionID int64, at time.Time) (core.TransportEnrollment, bool, error) {
	var (
		te    core.TransportEnrollment
		start int64
		end   sql.NullInt64
	)
	n := nanos(at)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, student_id, session_id, route, start_at, end_at FROM transport_enrollments
		 WHERE student_id = ? AND session_id = ? AND start_at <= ? AND (end_at IS NULL OR end_at >= ?)
		 ORDER BY start_at DESC, id DESC LIMIT 1`,
		studentID, sessionID, n, n).
		Scan(&te.ID, &te.StudentID, &te.SessionID, &te.Route, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransportEnrollment{}, false, nil
	}
	if err != nil {
		return core.TransportEnrollment{}, false, fmt.Errorf("get transport enrollment: %w", err)
	}
	te.Start = fromNanos(start)
	te.End = ptrTime(end)
	return te, true, nil
}

// TransportFeeAt resolves a route's fee by range lookup.
func (t *Tx) TransportFeeAt(ctx context.Context, route string, at time.Time) (core.TransportFee, error) {
	var (
		f    core.TransportFee
		fee  int64
		from int64
		to   sql.NullInt64
	)
	n := nanos(at)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, route, fee_cents, effective_from, effective_to FROM transport_fees
		 WHERE route = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
		 ORDER BY effective_from DESC, id DESC LIMIT 1`,
		route, n, n).
		Scan(&f.ID, &f.Route, &fee, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransportFee{}, core.ErrConfigurationMissing
	}
	if err != nil {
		return core.TransportFee{}, fmt.Errorf("get transport fee: %w", err)
	}
	f.Fee = core.Money{Cents: fee}
	f.EffectiveFrom = fromNanos(from)
	f.EffectiveTo = ptrTime(to)
	return f, nil
}

// ActiveConcessions lists active concessions covering at.
func (t *Tx) ActiveConcessions(ctx context.Context, studentID, sessionID int64, at time.Time) ([]core.Concession, error) {
	n := nanos(at)
	rows, err := t.q.QueryContext(ctx,
		`SELECT id, student_id, session_id, kind, value, valid_from, valid_to, active, description FROM concessions
		 WHERE student_id = ? AND session_id = ? AND active = 1 AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
		 ORDER BY id`,
		studentID, sessionID, n, n)
	if err != nil {
		return nil, fmt.Errorf("list concessions: %w", err)
	}
	defer rows.Close()
	var out []core.Concession
	for rows.Next() {
		var (
			c      core.Concession
			kind   string
			from   int64
			to     sql.NullInt64
			active int
		)
		if err := rows.Scan(&c.ID, &c.StudentID, &c.SessionID, &kind, &c.Value, &from, &to, &active, &c.Description); err != nil {
			return nil, fmt.Errorf("scan concession: %w", err)
		}
		c.Kind = core.ConcessionKind(kind)
		c.ValidFrom = fromNanos(from)
		c.ValidTo = ptrTime(to)
		c.Active = active == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feeledger/internal/core"
)

// DuesProcessorConfig holds configuration for the dues processor
type DuesProcessorConfig struct {
	// PollInterval is how often to post the dues that became billable (default: 1h)
	PollInterval time.Duration

	// ReconcileInterval is how often to compare cached balances with the
	// entry log (default: 24h)
	ReconcileInterval time.Duration

	// ChargeAdmission posts the admission fee of students admitted in the
	// current session (default: true)
	ChargeAdmission bool
}

// DefaultDuesProcessorConfig returns sensible defaults
func DefaultDuesProcessorConfig() DuesProcessorConfig {
	return DuesProcessorConfig{
		PollInterval:      time.Hour,
		ReconcileInterval: 24 * time.Hour,
		ChargeAdmission:   true,
	}
}

// DuesRun counts the outcome of one pass over the current session.
type DuesRun struct {
	Posted   int
	Existing int
	Skipped  int
	Failed   int
}

// DuesProcessor posts monthly dues and admission fees as they become
// billable. Every posting is idempotent, so passes can overlap or repeat.
type DuesProcessor struct {
	service *FeeService
	checker DuenessChecker
	config  DuesProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDuesProcessor creates a new dues processor
func NewDuesProcessor(service *FeeService, checker DuenessChecker, config DuesProcessorConfig) *DuesProcessor {
	if checker == nil {
		checker = MonthStartChecker{}
	}
	return &DuesProcessor{
		service: service,
		checker: checker,
		config:  config,
	}
}

// ProcessDueMonths posts every billable month of the current session for
// every student in it.
func (p *DuesProcessor) ProcessDueMonths(ctx context.Context, now time.Time) (DuesRun, error) {
	var run DuesRun
	if p.service == nil {
		return run, fmt.Errorf("processor not properly initialized")
	}

	sess, err := p.service.CurrentSession(ctx)
	if err != nil {
		return run, fmt.Errorf("get current session: %w", err)
	}
	students, err := p.service.SessionStudents(ctx, sess.ID)
	if err != nil {
		return run, fmt.Errorf("list students of %s: %w", sess.Name, err)
	}
	months := DueMonths(p.checker, sess, now)

	slog.InfoContext(ctx, "Processing monthly dues",
		"session", sess.Name,
		"students", len(students),
		"due_months", len(months),
		"processing_date", now.Format("2006-01-02"))

	for _, studentID := range students {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		st, err := p.service.Student(ctx, studentID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load student", "student_id", studentID, "error", err)
			run.Failed++
			continue
		}
		if !st.Active {
			run.Skipped++
			continue
		}

		// Scheduled passes charge each month once: a due reversed by hand
		// stays waived until someone posts it explicitly.
		if p.config.ChargeAdmission && st.AdmissionSessionID == sess.ID {
			entry, created, err := p.service.postAdmissionFee(ctx, studentID, sess.ID, true)
			run.count(ctx, studentID, 0, entry, created, err)
		}
		for _, m := range months {
			entry, created, err := p.service.postMonthlyDue(ctx, studentID, sess.ID, m, true)
			run.count(ctx, studentID, m, entry, created, err)
		}
	}

	slog.InfoContext(ctx, "Monthly dues processing complete",
		"session", sess.Name,
		"posted", run.Posted,
		"existing", run.Existing,
		"skipped", run.Skipped,
		"failed", run.Failed)

	return run, nil
}

func (r *DuesRun) count(ctx context.Context, studentID int64, month time.Month, entry core.LedgerEntry, created bool, err error) {
	switch {
	case err == nil && created:
		r.Posted++
	case err == nil && entry.ID != 0:
		r.Existing++
	case err == nil:
		// Waived earlier or nothing to charge.
		r.Skipped++
	case errors.Is(err, core.ErrNotEnrolled),
		errors.Is(err, core.ErrConfigurationMissing),
		errors.Is(err, core.ErrStudentInactive):
		r.Skipped++
		slog.DebugContext(ctx, "Skipping charge", "student_id", studentID, "month", month, "reason", err)
	default:
		r.Failed++
		slog.ErrorContext(ctx, "Failed to post charge", "student_id", studentID, "month", month, "error", err)
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *DuesProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("dues processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Dues processor started",
		"poll_interval", p.config.PollInterval,
		"reconcile_interval", p.config.ReconcileInterval)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *DuesProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Dues processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Dues processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *DuesProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *DuesProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	reconcileTicker := time.NewTicker(p.config.ReconcileInterval)
	defer reconcileTicker.Stop()

	// Process immediately on startup
	p.processOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processOnce(ctx)
		case <-reconcileTicker.C:
			p.reconcile(ctx)
		}
	}
}

func (p *DuesProcessor) processOnce(ctx context.Context) {
	if _, err := p.ProcessDueMonths(ctx, time.Now().UTC()); err != nil {
		slog.ErrorContext(ctx, "Dues processing failed", "error", err)
	}
}

// reconcile logs every student whose cached balance drifted from the log.
func (p *DuesProcessor) reconcile(ctx context.Context) {
	sess, err := p.service.CurrentSession(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to get current session for reconcile", "error", err)
		return
	}
	report, err := p.service.Reconcile(ctx, sess.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Reconcile failed", "session", sess.Name, "error", err)
		return
	}
	for _, d := range report.Drift {
		slog.WarnContext(ctx, "Balance drift",
			"session", sess.Name,
			"student_id", d.StudentID,
			"cached", d.Cached.String(),
			"computed", d.Computed.String())
	}
	slog.InfoContext(ctx, "Reconcile complete",
		"session", sess.Name, "checked", report.Checked, "drifted", len(report.Drift))
}

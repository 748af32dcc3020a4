package registration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trustid/internal/identity/models"
	"trustid/internal/registration/journal"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/requestcontext"
)

// DiscrepancyKind classifies a disagreement between ledger and identity store.
type DiscrepancyKind string

const (
	// LedgerOnly is a ledger registration with no identity record at its address.
	LedgerOnly DiscrepancyKind = "ledger_only"
	// StoreOnly is an employer or institution account whose address is not on the ledger.
	StoreOnly DiscrepancyKind = "store_only"
	// RoleMismatch is a ledger registration whose address is held by accounts of other roles only.
	RoleMismatch DiscrepancyKind = "role_mismatch"
)

type Discrepancy struct {
	Kind       DiscrepancyKind `json:"kind"`
	Address    id.Address      `json:"address"`
	Username   string          `json:"username,omitempty"`
	LedgerRole id.Role         `json:"ledger_role,omitempty"`
	StoreRole  id.Role         `json:"store_role,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Resumed       int           `json:"resumed"`
	Abandoned     int           `json:"abandoned"`
	Repaired      int           `json:"repaired"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	RanAt         time.Time     `json:"ran_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// Reconciler settles pending journal entries and re-registers store-only
// accounts on the ledger. What it cannot repair it reports.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	mu   sync.Mutex
	last *Report
}

type ReconcilerOption func(*Reconciler)

func WithInterval(interval time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithGrace sets how old a started entry must be before it is treated as
// abandoned rather than in flight.
func WithGrace(grace time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if grace >= 0 {
			r.grace = grace
		}
	}
}

func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func NewReconciler(svc *Service, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		svc:      svc,
		interval: time.Minute,
		grace:    30 * time.Second,
		logger:   svc.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Last returns the most recent report, or nil before the first run.
func (r *Reconciler) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("registration_reconciliation_failed", "error", err)
				continue
			}
			r.logger.Info("registration_reconciliation_completed",
				"resumed", res.Resumed,
				"abandoned", res.Abandoned,
				"repaired", res.Repaired,
				"discrepancies", len(res.Discrepancies),
				"duration_ms", res.Duration.Milliseconds(),
			)
		case <-ctx.Done():
			r.logger.Info("registration reconciler stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce settles the journal, then compares the ledger's registrations with
// the identity records and returns what is still inconsistent.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := r.run(ctx)
	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.ReconcileDuration.Observe(duration.Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	report.Duration = duration
	if r.metrics != nil {
		r.metrics.ReconcileRuns.WithLabelValues("success").Inc()
		counts := map[DiscrepancyKind]int{LedgerOnly: 0, StoreOnly: 0, RoleMismatch: 0}
		for _, d := range report.Discrepancies {
			counts[d.Kind]++
		}
		for kind, n := range counts {
			r.metrics.Discrepancies.WithLabelValues(string(kind)).Set(float64(n))
		}
	}
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	return report, nil
}

func (r *Reconciler) run(ctx context.Context) (*Report, error) {
	now := requestcontext.Now(ctx).UTC()
	report := &Report{RanAt: now, Discrepancies: []Discrepancy{}}

	parties, err := r.ledgerParties(ctx)
	if err != nil {
		return nil, err
	}
	ledgerRoles := make(map[id.Address][]id.Role, len(parties))
	for _, p := range parties {
		ledgerRoles[p.addr] = append(ledgerRoles[p.addr], p.role)
	}
	if err := r.settleJournal(ctx, now, ledgerRoles, report); err != nil {
		return nil, err
	}

	records, err := r.svc.identities.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byAddress := make(map[id.Address][]*models.Record)
	for _, rec := range records {
		byAddress[rec.Address] = append(byAddress[rec.Address], rec)
	}

	for _, rec := range records {
		if !rec.Role.OnLedger() || hasRole(ledgerRoles[rec.Address], rec.Role) {
			continue
		}
		if held := ledgerRoles[rec.Address]; len(held) > 0 {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind: RoleMismatch, Address: rec.Address, Username: rec.Username, LedgerRole: held[0], StoreRole: rec.Role,
			})
			continue
		}
		if _, err := r.svc.registerOnLedger(ctx, rec.Role, rec.Address, rec.Username); err != nil {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind: StoreOnly, Address: rec.Address, Username: rec.Username, StoreRole: rec.Role, Detail: err.Error(),
			})
			continue
		}
		ledgerRoles[rec.Address] = append(ledgerRoles[rec.Address], rec.Role)
		report.Repaired++
		r.metrics.reconciled("repaired")
		r.logger.InfoContext(ctx, "registration_store_only_repaired", "username", rec.Username, "role", rec.Role)
	}

	for _, p := range parties {
		holders := byAddress[p.addr]
		switch {
		case len(holders) == 0:
			report.Discrepancies = append(report.Discrepancies, Discrepancy{Kind: LedgerOnly, Address: p.addr, LedgerRole: p.role})
		case !holdsRole(holders, p.role) && !anyOnLedger(holders):
			// Ledger-role holders at this address were reported above.
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind: RoleMismatch, Address: p.addr, Username: holders[0].Username, LedgerRole: p.role, StoreRole: holders[0].Role,
			})
		}
	}
	return report, nil
}

// settleJournal resumes ledger_committed entries and resolves started
// entries older than the grace period.
func (r *Reconciler) settleJournal(ctx context.Context, now time.Time, ledgerRoles map[id.Address][]id.Role, report *Report) error {
	pending, err := r.svc.journal.Pending(ctx)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if e.State == journal.StateStarted {
			if now.Sub(e.CreatedAt) < r.grace {
				continue
			}
			if !e.Role.OnLedger() || !hasRole(ledgerRoles[e.Address], e.Role) {
				r.svc.transition(ctx, e.ID, journal.StateFailed, "abandoned before ledger commit")
				report.Abandoned++
				r.metrics.reconciled("abandoned")
				continue
			}
			r.svc.transition(ctx, e.ID, journal.StateLedgerCommitted, "")
		}

		rec := &models.Record{Username: e.Username, PasswordHash: e.PasswordHash, Role: e.Role, Address: e.Address, CreatedAt: e.CreatedAt}
		err := r.svc.identities.Create(ctx, rec)
		switch {
		case err == nil:
			r.svc.transition(ctx, e.ID, journal.StateCompleted, "")
			report.Resumed++
			r.metrics.reconciled("resumed")
			r.logger.InfoContext(ctx, "registration_resumed", "username", e.Username, "journal_id", e.ID)
		case dErrors.HasReason(err, dErrors.ReasonDuplicateUsername) && r.stored(ctx, e):
			r.svc.transition(ctx, e.ID, journal.StateCompleted, "")
			report.Resumed++
			r.metrics.reconciled("resumed")
		case dErrors.HasReason(err, dErrors.ReasonDuplicateUsername):
			r.svc.transition(ctx, e.ID, journal.StateFailed, "username taken before the account could be stored")
			report.Abandoned++
			r.metrics.reconciled("abandoned")
		default:
			r.svc.transition(ctx, e.ID, journal.StateLedgerCommitted, err.Error())
		}
	}
	return nil
}

// stored reports whether the entry's account already exists as journaled.
func (r *Reconciler) stored(ctx context.Context, e *journal.Entry) bool {
	rec, err := r.svc.identities.FindByUsername(ctx, e.Username)
	return err == nil && rec.Address == e.Address && rec.Role == e.Role
}

type partyRole struct {
	addr id.Address
	role id.Role
}

// ledgerParties lists the ledger's registrations at the tip in registry order.
func (r *Reconciler) ledgerParties(ctx context.Context) ([]partyRole, error) {
	employers, err := r.svc.ledger.Employers(ctx, 0)
	if err != nil {
		return nil, err
	}
	institutions, err := r.svc.ledger.Institutions(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]partyRole, 0, len(employers)+len(institutions))
	add := func(parties []registry.Party, role id.Role) {
		for _, p := range parties {
			out = append(out, partyRole{addr: p.Address, role: role})
		}
	}
	add(employers, id.RoleEmployer)
	add(institutions, id.RoleInstitution)
	return out, nil
}

func holdsRole(records []*models.Record, role id.Role) bool {
	for _, rec := range records {
		if rec.Role == role {
			return true
		}
	}
	return false
}

func anyOnLedger(records []*models.Record) bool {
	for _, rec := range records {
		if rec.Role.OnLedger() {
			return true
		}
	}
	return false
}

func hasRole(roles []id.Role, role id.Role) bool {
	for _, have := range roles {
		if have == role {
			return true
		}
	}
	return false
}

package registration

import (
	"context"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"trustid/internal/identity/models"
	"trustid/internal/registration/journal"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/requestcontext"
	"trustid/pkg/testutil"
)

func (s *RegistrationSuite) reconciler(opts ...ReconcilerOption) *Reconciler {
	return NewReconciler(s.svc, append([]ReconcilerOption{WithReconcilerMetrics(s.metrics)}, opts...)...)
}

func (s *RegistrationSuite) storeOnly(username string, role id.Role, addr id.Address) {
	s.Require().NoError(s.identities.Service.Create(s.ctx, &models.Record{Username: username, PasswordHash: "x", Role: role, Address: addr}))
}

func (s *RegistrationSuite) ledgerOnlyEmployer(addr id.Address, name string) {
	r, err := s.program.RegisterEmployer(s.ctx, testutil.Parties.Admin, addr, name)
	s.Require().NoError(err)
	s.Require().NoError(s.program.Confirm(s.ctx, r))
}

func (s *RegistrationSuite) TestReconcileConsistentState() {
	_, err := s.register("acme", id.RoleEmployer, testutil.Parties.Acme)
	s.Require().NoError(err)
	_, err = s.register("ada", id.RoleApplicant, testutil.Parties.Applicant)
	s.Require().NoError(err)

	report, err := s.reconciler().RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Empty(report.Discrepancies)
	s.Zero(report.Resumed + report.Repaired + report.Abandoned)
}

func (s *RegistrationSuite) TestReconcileLedgerOnly() {
	s.ledgerOnlyEmployer(testutil.Parties.Globex, "Globex")

	rec := s.reconciler()
	report, err := rec.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal([]Discrepancy{{Kind: LedgerOnly, Address: testutil.Parties.Globex, LedgerRole: id.RoleEmployer}}, report.Discrepancies)
	s.Same(report, rec.Last())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Discrepancies.WithLabelValues(string(LedgerOnly))))
	s.Equal(0.0, promtest.ToFloat64(s.metrics.Discrepancies.WithLabelValues(string(StoreOnly))))
}

func (s *RegistrationSuite) TestReconcileRepairsStoreOnly() {
	s.storeOnly("stateu", id.RoleInstitution, testutil.Parties.StateU)

	report, err := s.reconciler().RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Repaired)
	s.Empty(report.Discrepancies)

	name, err := s.program.InstitutionName(s.ctx, 0, testutil.Parties.StateU)
	s.Require().NoError(err)
	s.Equal("stateu", name)
}

func (s *RegistrationSuite) TestReconcileReportsUnrepairableStoreOnly() {
	s.storeOnly("acme", id.RoleEmployer, testutil.Parties.Acme)
	s.ledger.err = dErrors.New(dErrors.CodeUnavailable, "ledger unreachable")

	report, err := s.reconciler().RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(report.Discrepancies, 1)
	s.Equal(StoreOnly, report.Discrepancies[0].Kind)
	s.Equal("ledger unreachable", report.Discrepancies[0].Detail)
}

func (s *RegistrationSuite) TestReconcileRoleMismatch() {
	s.Run("applicant account at an employer address", func() {
		s.SetupTest()
		s.ledgerOnlyEmployer(testutil.Parties.Acme, "Acme")
		s.storeOnly("acme", id.RoleApplicant, testutil.Parties.Acme)

		report, err := s.reconciler().RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal([]Discrepancy{{
			Kind: RoleMismatch, Address: testutil.Parties.Acme, Username: "acme",
			LedgerRole: id.RoleEmployer, StoreRole: id.RoleApplicant,
		}}, report.Discrepancies)
	})

	s.Run("employer account at an institution address is reported once", func() {
		s.SetupTest()
		r, err := s.program.RegisterInstitution(s.ctx, testutil.Parties.Admin, testutil.Parties.StateU, "StateU")
		s.Require().NoError(err)
		s.Require().NoError(s.program.Confirm(s.ctx, r))
		s.storeOnly("stateu", id.RoleEmployer, testutil.Parties.StateU)

		report, err := s.reconciler().RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(report.Discrepancies, 1)
		s.Equal(RoleMismatch, report.Discrepancies[0].Kind)
		s.Equal(id.RoleInstitution, report.Discrepancies[0].LedgerRole)
		s.Equal(id.RoleEmployer, report.Discrepancies[0].StoreRole)
		s.Zero(report.Repaired, "mismatches are reported, not re-registered")
	})
}

func (s *RegistrationSuite) TestReconcileStartedEntries() {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, now)

	begin := func(username string, role id.Role, addr id.Address, age time.Duration) *journal.Entry {
		e := &journal.Entry{
			ID: uuid.New(), Username: username, Role: role, Address: addr, State: journal.StateStarted,
			PasswordHash: "hash", CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age),
		}
		s.Require().NoError(s.journal.Begin(s.ctx, e))
		return e
	}

	inFlight := begin("fresh", id.RoleEmployer, testutil.Address(100), time.Second)
	abandoned := begin("ghost", id.RoleEmployer, testutil.Address(101), time.Hour)
	committed := begin("globex", id.RoleEmployer, testutil.Parties.Globex, time.Hour)
	s.ledgerOnlyEmployer(testutil.Parties.Globex, "globex")

	report, err := s.reconciler(WithGrace(time.Minute)).RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Resumed)
	s.Equal(1, report.Abandoned)
	s.Empty(report.Discrepancies)

	got, err := s.journal.Get(s.ctx, inFlight.ID)
	s.Require().NoError(err)
	s.Equal(journal.StateStarted, got.State)

	got, err = s.journal.Get(s.ctx, abandoned.ID)
	s.Require().NoError(err)
	s.Equal(journal.StateFailed, got.State)

	got, err = s.journal.Get(s.ctx, committed.ID)
	s.Require().NoError(err)
	s.Equal(journal.StateCompleted, got.State)
	taken, err := s.identities.Taken(s.ctx, "globex")
	s.Require().NoError(err)
	s.True(taken)
}

func (s *RegistrationSuite) TestReconcileSettlesAlreadyStoredEntry() {
	now := time.Now().UTC()
	e := &journal.Entry{
		ID: uuid.New(), Username: "acme", Role: id.RoleEmployer, Address: testutil.Parties.Acme,
		State: journal.StateLedgerCommitted, PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.journal.Begin(s.ctx, e))
	s.ledgerOnlyEmployer(testutil.Parties.Acme, "acme")
	s.storeOnly("acme", id.RoleEmployer, testutil.Parties.Acme)

	report, err := s.reconciler().RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Resumed)
	s.Empty(s.pending())
}

func (s *RegistrationSuite) TestReconcilerStopsOnCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.reconciler(WithInterval(time.Millisecond)).Start(ctx) }()

	s.Eventually(func() bool {
		return promtest.ToFloat64(s.metrics.ReconcileRuns.WithLabelValues("success")) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("reconciler did not stop")
	}
}

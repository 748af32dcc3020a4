package seeder

import (
	"context"
	"fmt"
	"log/slog"

	"trustid/internal/credential"
	"trustid/internal/ledger/contract"
	"trustid/internal/registration"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, req registration.Request) (*registration.Result, error)
}

// Ledger is the subset of the ledger program the seeder drives.
type Ledger interface {
	Mint(ctx context.Context, caller id.Address, in credential.MintInput) (contract.Receipt, error)
	VerifyByEmployer(ctx context.Context, caller id.Address, tokenID id.TokenID) (contract.Receipt, error)
	RequestVerificationByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID, institutionName, employerName string) (contract.Receipt, error)
	VerifyByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID) (contract.Receipt, error)
	Confirm(ctx context.Context, r contract.Receipt) error
}

// DemoPassword is shared by every seeded account.
const DemoPassword = "demo-password"

type account struct {
	username string
	role     id.Role
	address  id.Address
}

var (
	acme    = account{"acme", id.RoleEmployer, id.MustAddress("0x00000000000000000000000000000000000000e1")}
	globex  = account{"globex", id.RoleEmployer, id.MustAddress("0x00000000000000000000000000000000000000e2")}
	stateU  = account{"stateu", id.RoleInstitution, id.MustAddress("0x00000000000000000000000000000000000000f1")}
	alice   = account{"alice", id.RoleApplicant, id.MustAddress("0x00000000000000000000000000000000000000a1")}
	bob     = account{"bob", id.RoleApplicant, id.MustAddress("0x00000000000000000000000000000000000000a2")}
	charlie = account{"charlie", id.RoleApplicant, id.MustAddress("0x00000000000000000000000000000000000000a3")}
)

// Seeder populates a fresh deployment with demo accounts and credentials in
// each stage of the verification handshake. Running it twice is harmless:
// taken usernames are skipped and mints carry idempotency keys.
type Seeder struct {
	registrar Registrar
	ledger    Ledger
	logger    *slog.Logger
}

// New creates a new seeder
func New(registrar Registrar, ledger Ledger, logger *slog.Logger) *Seeder {
	return &Seeder{
		registrar: registrar,
		ledger:    ledger,
		logger:    logger,
	}
}

// SeedAll registers the demo accounts, then mints one credential per
// applicant: alice fully approved, bob awaiting the institution, charlie
// not yet verified.
func (s *Seeder) SeedAll(ctx context.Context) error {
	s.logger.InfoContext(ctx, "seeding demo data...")

	accounts := []account{acme, globex, stateU, alice, bob, charlie}
	created := 0
	for _, a := range accounts {
		ok, err := s.seedAccount(ctx, a)
		if err != nil {
			return fmt.Errorf("failed to seed account %s: %w", a.username, err)
		}
		if ok {
			created++
		}
	}

	approved, err := s.mint(ctx, alice, acme, "Alice Anderson")
	if err != nil {
		return err
	}
	r, err := s.ledger.VerifyByEmployer(ctx, acme.address, approved)
	if err := s.apply(ctx, r, err); err != nil {
		return fmt.Errorf("failed to verify demo credential: %w", err)
	}
	r, err = s.ledger.RequestVerificationByInstitution(ctx, acme.address, approved, stateU.username, acme.username)
	if err := s.apply(ctx, r, err); err != nil {
		return fmt.Errorf("failed to request demo verification: %w", err)
	}
	r, err = s.ledger.VerifyByInstitution(ctx, stateU.address, approved)
	if err := s.apply(ctx, r, err); err != nil {
		return fmt.Errorf("failed to approve demo credential: %w", err)
	}

	requested, err := s.mint(ctx, bob, globex, "Bob Brown")
	if err != nil {
		return err
	}
	r, err = s.ledger.RequestVerificationByInstitution(ctx, globex.address, requested, stateU.username, globex.username)
	if err := s.apply(ctx, r, err); err != nil {
		return fmt.Errorf("failed to request demo verification: %w", err)
	}

	if _, err := s.mint(ctx, charlie, acme, "Charlie Chen"); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "demo data seeded successfully",
		"accounts_created", created,
		"accounts", len(accounts),
	)

	return nil
}

func (s *Seeder) seedAccount(ctx context.Context, a account) (bool, error) {
	_, err := s.registrar.Register(ctx, registration.Request{
		Username: a.username,
		Password: DemoPassword,
		Role:     a.role.String(),
		Address:  a.address.String(),
	})
	if dErrors.HasReason(err, dErrors.ReasonDuplicateUsername) {
		return false, nil
	}
	return err == nil, err
}

func (s *Seeder) mint(ctx context.Context, applicant, employer account, name string) (id.TokenID, error) {
	r, err := s.ledger.Mint(ctx, applicant.address, credential.MintInput{
		Applicant:      applicant.address,
		ApplicantName:  name,
		ResumeHash:     "demo-resume-" + applicant.username,
		EmployerName:   employer.username,
		IdempotencyKey: "seed-" + applicant.username,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mint demo credential for %s: %w", applicant.username, err)
	}
	if err := s.ledger.Confirm(ctx, r); err != nil {
		return 0, err
	}
	return r.TokenID, nil
}

// apply confirms a write; an already approved token is left as it is.
func (s *Seeder) apply(ctx context.Context, r contract.Receipt, err error) error {
	if dErrors.HasReason(err, dErrors.ReasonAlreadyApproved) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.ledger.Confirm(ctx, r)
}

// Package registration creates platform accounts. An employer or institution
// account is a dual write: the role goes onto the ledger first and the
// identity record second, with a journal entry tracking the gap between them.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustid/internal/identity/models"
	"trustid/internal/ledger/contract"
	"trustid/internal/registration/journal"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/requestcontext"
	"trustid/pkg/validation"
)

// Ledger is the subset of the ledger program registration drives.
type Ledger interface {
	RegisterEmployer(ctx context.Context, caller, employer id.Address, name string) (contract.Receipt, error)
	RegisterInstitution(ctx context.Context, caller, institution id.Address, name string) (contract.Receipt, error)
	Confirm(ctx context.Context, r contract.Receipt) error
	Employers(ctx context.Context, asOf uint64) ([]registry.Party, error)
	Institutions(ctx context.Context, asOf uint64) ([]registry.Party, error)
}

// Identities is the identity service.
type Identities interface {
	Taken(ctx context.Context, username string) (bool, error)
	HashPassword(password string) (string, error)
	Create(ctx context.Context, rec *models.Record) error
	FindByUsername(ctx context.Context, username string) (*models.Record, error)
	ListAll(ctx context.Context) ([]*models.Record, error)
}

// Journal records registration progress.
type Journal interface {
	Begin(ctx context.Context, e *journal.Entry) error
	Transition(ctx context.Context, entryID uuid.UUID, to journal.State, lastErr string, at time.Time) error
	Get(ctx context.Context, entryID uuid.UUID) (*journal.Entry, error)
	Pending(ctx context.Context) ([]*journal.Entry, error)
}

// Request is a registration as submitted.
type Request struct {
	Username string `json:"username" validate:"required,notblank,max=64"`
	Password string `json:"password" validate:"required,max=72"`
	Role     string `json:"role" validate:"required,role"`
	Address  string `json:"address" validate:"required"`
}

// Result is a completed registration.
type Result struct {
	Username string            `json:"username"`
	Role     id.Role           `json:"role"`
	Address  id.Address        `json:"address"`
	Receipt  *contract.Receipt `json:"receipt,omitempty"`
}

type Service struct {
	ledger     Ledger
	identities Identities
	journal    Journal
	admin      id.Address
	logger     *slog.Logger
	metrics    *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New builds the saga. admin is the ledger administrator: it signs the role
// registrations and is the only address allowed to hold the admin role.
func New(ledger Ledger, identities Identities, j Journal, admin id.Address, opts ...Option) *Service {
	svc := &Service{
		ledger:     ledger,
		identities: identities,
		journal:    j,
		admin:      admin,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Register validates the request, registers employer and institution roles on
// the ledger as the administrator, then stores the identity record. A ledger
// failure is returned unchanged; an identity write failure after the ledger
// commit is internal_error/reconciliation_pending and never reported as success.
func (s *Service) Register(ctx context.Context, req Request) (*Result, error) {
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	addr, err := id.ParseAddress(req.Address)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	if role == id.RoleAdmin && addr != s.admin {
		return nil, dErrors.WithReason(dErrors.CodeForbidden, dErrors.ReasonNotAdmin, "admin role is reserved for the ledger administrator")
	}

	taken, err := s.identities.Taken(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, dErrors.WithReason(dErrors.CodeConflict, dErrors.ReasonDuplicateUsername, "Username already exists")
	}
	hash, err := s.identities.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	entry := &journal.Entry{
		ID:           uuid.New(),
		Username:     username,
		Role:         role,
		Address:      addr,
		State:        journal.StateStarted,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.journal.Begin(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start registration")
	}

	result := &Result{Username: username, Role: role, Address: addr}
	if role.OnLedger() {
		receipt, err := s.registerOnLedger(ctx, role, addr, username)
		if err != nil {
			s.transition(ctx, entry.ID, journal.StateFailed, err.Error())
			s.metrics.registration(role.String(), "failed")
			s.logger.WarnContext(ctx, "registration_ledger_failed",
				"username", username,
				"role", role,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, err
		}
		result.Receipt = &receipt
		s.transition(ctx, entry.ID, journal.StateLedgerCommitted, "")
	}

	rec := &models.Record{Username: username, PasswordHash: hash, Role: role, Address: addr, CreatedAt: now}
	if err := s.identities.Create(ctx, rec); err != nil {
		if !role.OnLedger() {
			s.transition(ctx, entry.ID, journal.StateFailed, err.Error())
			s.metrics.registration(role.String(), "failed")
			return nil, err
		}
		s.transition(ctx, entry.ID, journal.StateLedgerCommitted, err.Error())
		s.metrics.registration(role.String(), "reconciliation_pending")
		s.logger.ErrorContext(ctx, "registration_reconciliation_pending",
			"username", username,
			"role", role,
			"journal_id", entry.ID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, &dErrors.Error{
			Code:    dErrors.CodeInternal,
			Reason:  dErrors.ReasonReconciliationPending,
			Message: "role registered on the ledger but the account could not be stored; it will be reconciled",
			Err:     err,
		}
	}

	s.transition(ctx, entry.ID, journal.StateCompleted, "")
	s.metrics.registration(role.String(), "completed")
	s.logger.InfoContext(ctx, "registration_completed",
		"username", username,
		"role", role,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// registerOnLedger submits the role registration as the administrator and
// waits until the projection has observed it. The username doubles as the
// party's display name.
func (s *Service) registerOnLedger(ctx context.Context, role id.Role, addr id.Address, name string) (contract.Receipt, error) {
	var (
		receipt contract.Receipt
		err     error
	)
	switch role {
	case id.RoleEmployer:
		receipt, err = s.ledger.RegisterEmployer(ctx, s.admin, addr, name)
	case id.RoleInstitution:
		receipt, err = s.ledger.RegisterInstitution(ctx, s.admin, addr, name)
	default:
		return contract.Receipt{}, dErrors.New(dErrors.CodeInternal, "role is not registered on the ledger")
	}
	if err != nil {
		return contract.Receipt{}, err
	}
	if err := s.ledger.Confirm(ctx, receipt); err != nil {
		return contract.Receipt{}, err
	}
	return receipt, nil
}

// transition records journal progress. A journal write failure does not undo
// the step it records; the reconciler compares ledger and store directly.
func (s *Service) transition(ctx context.Context, entryID uuid.UUID, to journal.State, lastErr string) {
	err := s.journal.Transition(ctx, entryID, to, lastErr, requestcontext.Now(ctx).UTC())
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "registration_journal_write_failed",
			"journal_id", entryID,
			"state", to,
			"error", err,
		)
	}
}

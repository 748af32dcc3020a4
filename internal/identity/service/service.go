// Package service is the identity store's service layer: account creation,
// role listings and password login. Store sentinels are translated here.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trustid/internal/identity/models"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/platform/sentinel"
	"trustid/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_store.go -package=mocks Store,TokenIssuer

// Store persists identity records.
// Error Contract: FindByUsername returns sentinel.ErrNotFound; Create returns
// sentinel.ErrAlreadyUsed for a taken username.
type Store interface {
	Create(ctx context.Context, rec *models.Record) error
	FindByUsername(ctx context.Context, username string) (*models.Record, error)
	ListByRole(ctx context.Context, role id.Role) ([]*models.Record, error)
	ListAll(ctx context.Context) ([]*models.Record, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, p requestcontext.AuthPrincipal) (string, time.Time, error)
}

// LoginResult is a successful login.
type LoginResult struct {
	Record    *models.Record
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	store      Store
	tokens     TokenIssuer
	bcryptCost int
	logger     *slog.Logger
	// dummyHash keeps login timing uniform for unknown usernames.
	dummyHash []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBcryptCost sets the hashing cost; values outside bcrypt's range fall back to the default.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(s *Service) {
		s.tokens = tokens
	}
}

func New(store Store, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	svc.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("trustid-unknown-user"), svc.bcryptCost) //nolint:errcheck // cost already validated
	return svc
}

// HashPassword returns the bcrypt hash stored with a new record.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "password cannot be hashed")
	}
	return string(hash), nil
}

// Create stores a new record. A taken username is a conflict.
func (s *Service) Create(ctx context.Context, rec *models.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = requestcontext.Now(ctx).UTC()
	}
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.WithReason(dErrors.CodeConflict, dErrors.ReasonDuplicateUsername, "Username already exists")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store identity")
	}
	s.logger.InfoContext(ctx, "identity_created",
		"username", rec.Username,
		"role", rec.Role,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// Taken reports whether the username already has a record.
func (s *Service) Taken(ctx context.Context, username string) (bool, error) {
	_, err := s.store.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return false, nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*models.Record, error) {
	rec, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
	return rec, nil
}

// ListByRole returns {username, address} pairs in creation order.
func (s *Service) ListByRole(ctx context.Context, role id.Role) ([]models.Listing, error) {
	records, err := s.store.ListByRole(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identities")
	}
	out := make([]models.Listing, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Listing())
	}
	return out, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*models.Record, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identities")
	}
	return records, nil
}

// Login checks the password and issues a session token. Unknown usernames
// and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "username and password are required")
	}

	rec, err := s.store.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
	if rec == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password)) //nolint:errcheck // timing only
		s.logger.WarnContext(ctx, "login_failed", "username", username, "request_id", requestcontext.RequestID(ctx))
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonInvalidCredentials, "Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "login_failed", "username", username, "request_id", requestcontext.RequestID(ctx))
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonInvalidCredentials, "Invalid credentials")
	}

	result := &LoginResult{Record: rec}
	if s.tokens != nil {
		token, expiresAt, err := s.tokens.Issue(ctx, requestcontext.AuthPrincipal{
			Username: rec.Username,
			Role:     rec.Role,
			Address:  rec.Address,
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
		}
		result.Token = token
		result.ExpiresAt = expiresAt
	}
	s.logger.InfoContext(ctx, "login_succeeded", "username", username, "role", rec.Role)
	return result, nil
}

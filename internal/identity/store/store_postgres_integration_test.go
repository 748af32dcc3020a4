//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustid/internal/identity/models"
	"trustid/internal/identity/store"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/sentinel"
	"trustid/pkg/testutil"
	"trustid/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "identities"))
}

func record(username string, role id.Role, addr id.Address) *models.Record {
	return &models.Record{
		Username:     username,
		PasswordHash: "hash",
		Role:         role,
		Address:      addr,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	rec := record("acme", id.RoleEmployer, testutil.Parties.Acme)
	s.Require().NoError(s.store.Create(s.ctx, rec))

	got, err := s.store.FindByUsername(s.ctx, "acme")
	s.Require().NoError(err)
	s.Equal(rec.Address, got.Address)
	s.Equal(id.RoleEmployer, got.Role)
	s.True(rec.CreatedAt.Equal(got.CreatedAt))
}

func (s *PostgresStoreSuite) TestDuplicateUsername() {
	s.Require().NoError(s.store.Create(s.ctx, record("acme", id.RoleEmployer, testutil.Parties.Acme)))
	err := s.store.Create(s.ctx, record("acme", id.RoleApplicant, testutil.Parties.Applicant))
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.FindByUsername(s.ctx, "nobody")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestListByRoleInCreationOrder() {
	s.Require().NoError(s.store.Create(s.ctx, record("globex", id.RoleEmployer, testutil.Parties.Globex)))
	s.Require().NoError(s.store.Create(s.ctx, record("ada", id.RoleApplicant, testutil.Parties.Applicant)))
	s.Require().NoError(s.store.Create(s.ctx, record("acme", id.RoleEmployer, testutil.Parties.Acme)))

	employers, err := s.store.ListByRole(s.ctx, id.RoleEmployer)
	s.Require().NoError(err)
	s.Require().Len(employers, 2)
	s.Equal("globex", employers[0].Username)
	s.Equal("acme", employers[1].Username)

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

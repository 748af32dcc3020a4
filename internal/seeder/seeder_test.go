package seeder

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"trustid/internal/credential"
	identitysvc "trustid/internal/identity/service"
	"trustid/internal/identity/store"
	"trustid/internal/ledger"
	"trustid/internal/ledger/contract"
	"trustid/internal/registration"
	"trustid/internal/registration/journal"
	id "trustid/pkg/domain"
	"trustid/pkg/testutil"
)

type SeederSuite struct {
	suite.Suite
	ctx        context.Context
	log        *ledger.MemoryLog
	program    *contract.Program
	identities *identitysvc.Service
	seeder     *Seeder
}

func TestSeederSuite(t *testing.T) {
	suite.Run(t, new(SeederSuite))
}

func (s *SeederSuite) SetupTest() {
	s.ctx = context.Background()
	s.log = ledger.NewMemoryLog()
	s.program = contract.New(s.log, testutil.Parties.Admin, contract.WithRetry(1, 0))
	s.identities = identitysvc.New(store.NewInMemory(), identitysvc.WithBcryptCost(bcrypt.MinCost))
	registrar := registration.New(s.program, s.identities, journal.NewInMemory(), testutil.Parties.Admin)
	s.seeder = New(registrar, s.program, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *SeederSuite) TestSeedsEveryHandshakeStage() {
	s.Require().NoError(s.seeder.SeedAll(s.ctx))

	status, err := s.program.Status(s.ctx, 0, s.tokenOf(alice))
	s.Require().NoError(err)
	s.Equal(credential.StatusApproved, status)

	status, err = s.program.Status(s.ctx, 0, s.tokenOf(bob))
	s.Require().NoError(err)
	s.Equal(credential.StatusRequested, status)

	status, err = s.program.Status(s.ctx, 0, s.tokenOf(charlie))
	s.Require().NoError(err)
	s.Equal(credential.StatusNotRequested, status)

	employers, err := s.program.Employers(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(employers, 2)

	rec, err := s.identities.FindByUsername(s.ctx, "stateu")
	s.Require().NoError(err)
	s.Equal(stateU.address, rec.Address)
}

func (s *SeederSuite) TestSecondRunAppendsNothing() {
	s.Require().NoError(s.seeder.SeedAll(s.ctx))
	tip, err := s.log.Tip(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.seeder.SeedAll(s.ctx))

	again, err := s.log.Tip(s.ctx)
	s.Require().NoError(err)
	s.Equal(tip, again)
}

func (s *SeederSuite) tokenOf(a account) id.TokenID {
	tok, err := s.program.GetResume(s.ctx, 0, a.address)
	s.Require().NoError(err)
	return tok.ID
}

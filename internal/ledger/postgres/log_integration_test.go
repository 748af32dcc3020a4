//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"trustid/internal/credential"
	"trustid/internal/ledger"
	"trustid/internal/ledger/contract"
	ledgerpg "trustid/internal/ledger/postgres"
	id "trustid/pkg/domain"
	outboxpg "trustid/pkg/platform/outbox/store/postgres"
	"trustid/pkg/testutil"
	"trustid/pkg/testutil/containers"
)

type LogSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	outbox *outboxpg.Store
	log    *ledgerpg.Log
}

func TestLogSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LogSuite))
}

func (s *LogSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.outbox = outboxpg.New(s.pg.DB)
	s.log = ledgerpg.New(s.pg.DB, s.outbox)
}

func (s *LogSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(context.Background()))
}

func employerDraft(s *LogSuite, addr id.Address, name string) ledger.Draft {
	d, err := ledger.NewDraft(ledger.KindEmployerRegistered, ledger.EmployerRegistered{
		Employer:   addr,
		EmployerID: id.NewPartyID(),
		Name:       name,
	})
	s.Require().NoError(err)
	return d
}

func (s *LogSuite) TestSubmitAppendsOneTransaction() {
	ctx := context.Background()
	p := testutil.Parties

	events, err := s.log.Submit(ctx, p.Admin, func(_ context.Context, tip uint64) ([]ledger.Draft, error) {
		s.Equal(uint64(0), tip)
		return []ledger.Draft{employerDraft(s, p.Acme, "Acme"), employerDraft(s, p.Globex, "Globex")}, nil
	})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(uint64(1), events[0].Seq)
	s.Equal(uint64(2), events[1].Seq)
	s.Equal(events[0].TxID, events[1].TxID)

	tip, err := s.log.Tip(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(2), tip)

	read, err := s.log.Read(ctx, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(read, 1)
	s.Equal(uint64(2), read[0].Seq)
	s.Equal(p.Admin, read[0].Submitter)

	pending, err := s.outbox.CountPending(ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), pending)
}

func (s *LogSuite) TestRejectedSubmissionCommitsNothing() {
	ctx := context.Background()
	boom := errors.New("rejected")

	_, err := s.log.Submit(ctx, testutil.Parties.Admin, func(context.Context, uint64) ([]ledger.Draft, error) {
		return nil, boom
	})
	s.ErrorIs(err, boom)

	_, err = s.log.Submit(ctx, testutil.Parties.Admin, func(context.Context, uint64) ([]ledger.Draft, error) {
		return nil, nil
	})
	s.Require().NoError(err)

	tip, err := s.log.Tip(ctx)
	s.Require().NoError(err)
	s.Zero(tip)
	pending, err := s.outbox.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *LogSuite) TestConcurrentSubmissionsAreGapFree() {
	ctx := context.Background()
	const writers = 8

	out := testutil.Parallel(writers, func(i int) ([]ledger.Event, error) {
		addr := id.MustAddress(fmt.Sprintf("0x%040x", i+1))
		return s.log.Submit(ctx, addr, func(context.Context, uint64) ([]ledger.Draft, error) {
			return []ledger.Draft{employerDraft(s, addr, "Employer")}, nil
		})
	})
	s.Require().NoError(out.FirstErr())

	events, err := ledger.ReadAll(ctx, s.log, 0)
	s.Require().NoError(err)
	s.Require().Len(events, writers)
	for i, e := range events {
		s.Equal(uint64(i+1), e.Seq)
	}
}

func (s *LogSuite) TestEventsAreImmutable() {
	ctx := context.Background()
	_, err := s.log.Submit(ctx, testutil.Parties.Admin, func(context.Context, uint64) ([]ledger.Draft, error) {
		return []ledger.Draft{employerDraft(s, testutil.Parties.Acme, "Acme")}, nil
	})
	s.Require().NoError(err)

	_, err = s.pg.DB.ExecContext(ctx, `UPDATE ledger_events SET submitter = 'x' WHERE seq = 1`)
	s.Error(err)
	_, err = s.pg.DB.ExecContext(ctx, `DELETE FROM ledger_events WHERE seq = 1`)
	s.Error(err)
}

func (s *LogSuite) TestProgramOverPostgres() {
	ctx := context.Background()
	p := testutil.Parties
	program := contract.New(s.log, p.Admin, contract.WithRetry(1, 0))

	r, err := program.RegisterEmployer(ctx, p.Admin, p.Acme, "Acme")
	s.Require().NoError(err)
	s.Require().NoError(program.Confirm(ctx, r))

	r, err = program.Mint(ctx, p.Applicant, credential.MintInput{
		Applicant:      p.Applicant,
		ApplicantName:  "Ada",
		ResumeHash:     "bafy-resume",
		EmployerName:   "Acme",
		IdempotencyKey: "k1",
	})
	s.Require().NoError(err)
	s.Require().NoError(program.Confirm(ctx, r))

	again, err := program.Mint(ctx, p.Applicant, credential.MintInput{
		Applicant:      p.Applicant,
		ApplicantName:  "Ada",
		ResumeHash:     "bafy-resume",
		EmployerName:   "Acme",
		IdempotencyKey: "k1",
	})
	s.Require().NoError(err)
	s.False(again.Applied)
	s.Equal(r.TokenID, again.TokenID)

	// A fresh program replays the same state from the table.
	replayed := contract.New(ledgerpg.New(s.pg.DB, nil), p.Admin)
	tok, err := replayed.Token(ctx, 0, r.TokenID)
	s.Require().NoError(err)
	s.Equal("Ada", tok.ApplicantName)
	s.Equal(credential.StatusNotRequested, tok.Status())
}

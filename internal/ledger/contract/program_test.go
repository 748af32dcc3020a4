package contract

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"

	"trustid/internal/credential"
	"trustid/internal/ledger"
	"trustid/internal/ledger/mocks"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/testutil"
)

type ProgramSuite struct {
	suite.Suite
	ctx     context.Context
	log     *ledger.MemoryLog
	metrics *Metrics
	program *Program
}

func TestProgramSuite(t *testing.T) {
	suite.Run(t, new(ProgramSuite))
}

func (s *ProgramSuite) SetupTest() {
	s.ctx = context.Background()
	s.log = ledger.NewMemoryLog()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.program = New(s.log, testutil.Parties.Admin,
		WithMetrics(s.metrics),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
		WithRetry(3, 0),
	)
}

func (s *ProgramSuite) seedRegistry() {
	p := testutil.Parties
	for _, step := range []func() (Receipt, error){
		func() (Receipt, error) { return s.program.RegisterEmployer(s.ctx, p.Admin, p.Acme, "Acme") },
		func() (Receipt, error) { return s.program.RegisterEmployer(s.ctx, p.Admin, p.Globex, "Globex") },
		func() (Receipt, error) { return s.program.RegisterInstitution(s.ctx, p.Admin, p.StateU, "StateU") },
		func() (Receipt, error) { return s.program.RegisterInstitution(s.ctx, p.Admin, p.OtherU, "OtherU") },
	} {
		r, err := step()
		s.Require().NoError(err)
		s.Require().NoError(s.program.Confirm(s.ctx, r))
	}
}

func (s *ProgramSuite) mint(employer, key string) Receipt {
	r, err := s.program.Mint(s.ctx, testutil.Parties.Applicant, credential.MintInput{
		Applicant:      testutil.Parties.Applicant,
		ApplicantName:  "Ada",
		ResumeHash:     "bafyresume",
		EmployerName:   employer,
		IdempotencyKey: key,
	})
	s.Require().NoError(err)
	return r
}

func (s *ProgramSuite) TestEndToEndVerification() {
	s.seedRegistry()
	p := testutil.Parties

	minted := s.mint("Acme", "")
	s.Require().True(minted.Applied)
	tokenID := minted.TokenID
	s.Equal(id.TokenID(1), tokenID)

	verified, err := s.program.VerifyByEmployer(s.ctx, p.Acme, tokenID)
	s.Require().NoError(err)
	s.True(verified.Applied)
	ok, err := s.program.IsVerifiedByEmployer(s.ctx, 0, tokenID)
	s.Require().NoError(err)
	s.True(ok)

	again, err := s.program.VerifyByEmployer(s.ctx, p.Acme, tokenID)
	s.Require().NoError(err)
	s.False(again.Applied, "second verify is a no-op")

	_, err = s.program.RequestVerificationByInstitution(s.ctx, p.Acme, tokenID, "StateU", "Acme")
	s.Require().NoError(err)
	status, err := s.program.Status(s.ctx, 0, tokenID)
	s.Require().NoError(err)
	s.Equal(credential.StatusRequested, status)

	_, err = s.program.VerifyByInstitution(s.ctx, p.OtherU, tokenID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	approved, err := s.program.VerifyByInstitution(s.ctx, p.StateU, tokenID)
	s.Require().NoError(err)
	s.True(approved.Applied)
	s.Require().NoError(s.program.Confirm(s.ctx, approved))

	ok, err = s.program.IsVerifiedByInstitution(s.ctx, 0, tokenID)
	s.Require().NoError(err)
	s.True(ok)
	status, err = s.program.Status(s.ctx, 0, tokenID)
	s.Require().NoError(err)
	s.Equal(credential.StatusApproved, status)

	_, err = s.program.RequestVerificationByInstitution(s.ctx, p.Acme, tokenID, "OtherU", "")
	s.True(dErrors.HasReason(err, dErrors.ReasonAlreadyApproved), "approved is terminal")
}

func (s *ProgramSuite) TestRegistrationIsAdminOnlyAndIdempotent() {
	p := testutil.Parties
	_, err := s.program.RegisterEmployer(s.ctx, p.Acme, p.Acme, "Acme")
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAdmin))

	first, err := s.program.RegisterEmployer(s.ctx, p.Admin, p.Acme, "Acme")
	s.Require().NoError(err)
	s.True(first.Applied)

	second, err := s.program.RegisterEmployer(s.ctx, p.Admin, p.Acme, "Acme")
	s.Require().NoError(err)
	s.False(second.Applied)
	s.Equal(first.Seq, second.Seq)

	employers, err := s.program.Employers(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(employers, 1)

	tip, err := s.program.Tip(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), tip)
	s.InDelta(1, promtest.ToFloat64(s.metrics.Submissions.WithLabelValues(OpRegisterEmployer, "noop")), 0)
	s.InDelta(1, promtest.ToFloat64(s.metrics.Submissions.WithLabelValues(OpRegisterEmployer, "rejected")), 0)
}

func (s *ProgramSuite) TestVerifyWithoutRequest() {
	s.seedRegistry()
	tokenID := s.mint("Acme", "").TokenID

	_, err := s.program.VerifyByInstitution(s.ctx, testutil.Parties.StateU, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNoSuchRequest))
}

func (s *ProgramSuite) TestUnregisteredCallersAreRejected() {
	s.seedRegistry()
	tokenID := s.mint("Acme", "").TokenID

	_, err := s.program.VerifyByEmployer(s.ctx, testutil.Parties.Stranger, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer))

	_, err = s.program.RequestVerificationByInstitution(s.ctx, testutil.Parties.StateU, tokenID, "StateU", "")
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer))

	_, err = s.program.VerifyByInstitution(s.ctx, testutil.Parties.Acme, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedInstitution))

	_, err = s.program.Mint(s.ctx, testutil.Parties.Stranger, credential.MintInput{
		Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", ResumeHash: "h", EmployerName: "Acme",
	})
	s.True(dErrors.HasReason(err, dErrors.ReasonCallerMismatch))
}

func (s *ProgramSuite) TestFlagsAreMonotonicAcrossPrefixes() {
	s.seedRegistry()
	tokenID := s.mint("Acme", "").TokenID
	before, err := s.program.Tip(s.ctx)
	s.Require().NoError(err)

	verified, err := s.program.VerifyByEmployer(s.ctx, testutil.Parties.Acme, tokenID)
	s.Require().NoError(err)
	for range 3 {
		s.mint("Globex", "")
	}
	tip, err := s.program.Tip(s.ctx)
	s.Require().NoError(err)

	old, err := s.program.IsVerifiedByEmployer(s.ctx, before, tokenID)
	s.Require().NoError(err)
	s.False(old, "the prefix before the attestation is still readable")

	for asOf := verified.Seq; asOf <= tip; asOf++ {
		ok, err := s.program.IsVerifiedByEmployer(s.ctx, asOf, tokenID)
		s.Require().NoError(err)
		s.True(ok, "as of %d", asOf)
	}
}

func (s *ProgramSuite) TestReads() {
	s.seedRegistry()
	p := testutil.Parties
	first := s.mint("Acme", "")
	second := s.mint("Globex", "")

	name, err := s.program.InstitutionName(s.ctx, 0, p.StateU)
	s.Require().NoError(err)
	s.Equal("StateU", name)

	isInst, err := s.program.IsInstitution(s.ctx, 0, p.Acme)
	s.Require().NoError(err)
	s.False(isInst)

	isEmp, err := s.program.IsEmployer(s.ctx, 0, p.Acme)
	s.Require().NoError(err)
	s.True(isEmp)

	latest, err := s.program.GetResume(s.ctx, 0, p.Applicant)
	s.Require().NoError(err)
	s.Equal(second.TokenID, latest.ID)

	atFirst, err := s.program.GetResume(s.ctx, first.Seq, p.Applicant)
	s.Require().NoError(err)
	s.Equal(first.TokenID, atFirst.ID)

	_, err = s.program.GetResume(s.ctx, 0, p.Stranger)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	mine, err := s.program.TokensOf(s.ctx, 0, p.Applicant)
	s.Require().NoError(err)
	s.Len(mine, 2)

	addressed, err := s.program.TokensForEmployer(s.ctx, 0, p.Acme)
	s.Require().NoError(err)
	s.Require().Len(addressed, 1)
	s.Equal(first.TokenID, addressed[0].ID)

	_, err = s.program.TokensForEmployer(s.ctx, 0, p.Stranger)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	req, err := s.program.GetInstitutionRequest(s.ctx, 0, first.TokenID)
	s.Require().NoError(err)
	s.Nil(req)

	_, err = s.program.RequestVerificationByInstitution(s.ctx, p.Acme, first.TokenID, "stateu", "")
	s.Require().NoError(err)
	req, err = s.program.GetInstitutionRequest(s.ctx, 0, first.TokenID)
	s.Require().NoError(err)
	s.Require().NotNil(req)
	s.Equal("StateU", req.InstitutionName)

	requests, err := s.program.RequestsForInstitution(s.ctx, 0, p.StateU)
	s.Require().NoError(err)
	s.Len(requests, 1)

	_, err = s.program.Token(s.ctx, 0, 42)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.program.Token(s.ctx, 999, first.TokenID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ProgramSuite) TestConcurrentVerificationHasOneWinner() {
	s.seedRegistry()
	tokenID := s.mint("Acme", "").TokenID

	const n = 20
	out := testutil.Parallel(n, func(int) (Receipt, error) {
		return s.program.VerifyByEmployer(s.ctx, testutil.Parties.Acme, tokenID)
	})
	s.Require().NoError(out.FirstErr())
	s.Equal(1, out.Count(func(r Receipt) bool { return r.Applied }))
}

func (s *ProgramSuite) TestConfirmDetectsUnobservedTransition() {
	s.seedRegistry()
	r := s.mint("Acme", "")
	s.Require().NoError(s.program.Confirm(s.ctx, r))

	phantom := r
	phantom.Seq = r.Seq + 10
	phantom.Events = []ledger.Event{{Seq: r.Seq + 10, TxID: id.NewTxID()}}
	err := s.program.Confirm(s.ctx, phantom)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	forged := r
	forged.Events = []ledger.Event{{Seq: r.Seq, TxID: id.NewTxID()}}
	err = s.program.Confirm(s.ctx, forged)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.NoError(s.program.Confirm(s.ctx, Receipt{Applied: false}))
}

// RetrySuite drives the program against a mocked log that fails on demand.
type RetrySuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	mem     *ledger.MemoryLog
	log     *mocks.MockLog
	program *Program
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetrySuite))
}

func (s *RetrySuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mem = ledger.NewMemoryLog()
	s.log = mocks.NewMockLog(s.ctrl)
	s.log.EXPECT().Read(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(s.mem.Read).AnyTimes()
	s.log.EXPECT().Tip(gomock.Any()).DoAndReturn(s.mem.Tip).AnyTimes()
	s.program = New(s.log, testutil.Parties.Admin, WithRetry(3, 0))
}

func unavailable() error {
	return dErrors.New(dErrors.CodeUnavailable, "ledger transport unreachable")
}

func (s *RetrySuite) TestRegistrationIsRetried() {
	gomock.InOrder(
		s.log.EXPECT().Submit(gomock.Any(), testutil.Parties.Admin, gomock.Any()).Return(nil, unavailable()),
		s.log.EXPECT().Submit(gomock.Any(), testutil.Parties.Admin, gomock.Any()).DoAndReturn(s.mem.Submit),
	)

	r, err := s.program.RegisterEmployer(s.ctx, testutil.Parties.Admin, testutil.Parties.Acme, "Acme")
	s.Require().NoError(err)
	s.True(r.Applied)
}

func (s *RetrySuite) TestRetriesAreBounded() {
	s.log.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, unavailable()).Times(3)

	_, err := s.program.RegisterEmployer(s.ctx, testutil.Parties.Admin, testutil.Parties.Acme, "Acme")
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *RetrySuite) TestMintWithoutKeyIsNotRetried() {
	s.log.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, unavailable()).Times(1)

	_, err := s.program.Mint(s.ctx, testutil.Parties.Applicant, credential.MintInput{
		Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", ResumeHash: "h", EmployerName: "Acme",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *RetrySuite) TestMintWithKeySurvivesLostAcknowledgement() {
	in := credential.MintInput{
		Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", ResumeHash: "h", EmployerName: "Acme", IdempotencyKey: "k-1",
	}
	gomock.InOrder(
		// The first attempt commits but the caller never hears back.
		s.log.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, submitter id.Address, fn ledger.SubmitFunc) ([]ledger.Event, error) {
				if _, err := s.mem.Submit(ctx, submitter, fn); err != nil {
					return nil, err
				}
				return nil, unavailable()
			}),
		s.log.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(s.mem.Submit),
	)

	r, err := s.program.Mint(s.ctx, testutil.Parties.Applicant, in)
	s.Require().NoError(err)
	s.False(r.Applied, "the retry finds the committed mint")
	s.Equal(id.TokenID(1), r.TokenID)

	tokens, err := s.program.TokensOf(s.ctx, 0, testutil.Parties.Applicant)
	s.Require().NoError(err)
	s.Len(tokens, 1, "no duplicate token")
}

func (s *RetrySuite) TestRejectionsAreNotRetried() {
	s.log.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(s.mem.Submit).Times(1)

	_, err := s.program.RegisterEmployer(s.ctx, testutil.Parties.Stranger, testutil.Parties.Acme, "Acme")
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAdmin))
}

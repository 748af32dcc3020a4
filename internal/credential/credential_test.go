package credential

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustid/internal/ledger"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/testutil"
)

type CredentialSuite struct {
	suite.Suite
	reg    *registry.State
	tokens *State
	seq    uint64

	applicant id.ApplicantActor
	acme      id.Actor
	globex    id.Actor
	stateU    id.Actor
	otherU    id.Actor
}

func TestCredentialSuite(t *testing.T) {
	suite.Run(t, new(CredentialSuite))
}

func (s *CredentialSuite) SetupTest() {
	s.reg = registry.New(testutil.Parties.Admin)
	s.tokens = New()
	s.seq = 0

	admin := id.AdminActor{Addr: testutil.Parties.Admin}
	s.commit(s.reg.RegisterEmployer(admin, testutil.Parties.Acme, "Acme"))
	s.commit(s.reg.RegisterEmployer(admin, testutil.Parties.Globex, "Globex"))
	s.commit(s.reg.RegisterInstitution(admin, testutil.Parties.StateU, "StateU"))
	s.commit(s.reg.RegisterInstitution(admin, testutil.Parties.OtherU, "OtherU"))

	s.applicant = id.ApplicantActor{Addr: testutil.Parties.Applicant}
	s.acme = s.resolve(testutil.Parties.Acme, id.RoleEmployer)
	s.globex = s.resolve(testutil.Parties.Globex, id.RoleEmployer)
	s.stateU = s.resolve(testutil.Parties.StateU, id.RoleInstitution)
	s.otherU = s.resolve(testutil.Parties.OtherU, id.RoleInstitution)
}

func (s *CredentialSuite) resolve(addr id.Address, role id.Role) id.Actor {
	a, err := s.reg.Resolve(addr, role)
	s.Require().NoError(err)
	return a
}

// commit folds drafts into both states the way the ledger program does.
func (s *CredentialSuite) commit(drafts []ledger.Draft, err error) {
	s.Require().NoError(err)
	for _, d := range drafts {
		s.seq++
		e := ledger.Event{Seq: s.seq, Kind: d.Kind, Payload: d.Payload, Timestamp: time.Unix(int64(s.seq), 0).UTC()}
		s.Require().NoError(s.reg.Apply(e))
		s.Require().NoError(s.tokens.Apply(e))
	}
}

func (s *CredentialSuite) mint(employerName string) id.TokenID {
	drafts, tokenID, err := s.tokens.Mint(s.applicant, s.reg, MintInput{
		Applicant:     testutil.Parties.Applicant,
		ApplicantName: "Ada",
		ResumeHash:    "bafyresume",
		EmployerName:  employerName,
	})
	s.commit(drafts, err)
	return tokenID
}

func (s *CredentialSuite) token(tokenID id.TokenID) Token {
	t, ok := s.tokens.Token(tokenID)
	s.Require().True(ok)
	return t
}

func (s *CredentialSuite) TestMintAssignsSequentialIDs() {
	first := s.mint("Acme")
	second := s.mint("Acme")

	s.Equal(id.TokenID(1), first)
	s.Equal(id.TokenID(2), second, "duplicate applications produce distinct tokens")
	s.Len(s.tokens.ByApplicant(testutil.Parties.Applicant), 2)

	latest, ok := s.tokens.Latest(testutil.Parties.Applicant)
	s.Require().True(ok)
	s.Equal(second, latest.ID)
}

func (s *CredentialSuite) TestMintForSomeoneElseIsRejected() {
	_, _, err := s.tokens.Mint(s.applicant, s.reg, MintInput{
		Applicant:     testutil.Parties.Stranger,
		ApplicantName: "Mallory",
		ResumeHash:    "bafy",
		EmployerName:  "Acme",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.True(dErrors.HasReason(err, dErrors.ReasonCallerMismatch))
}

func (s *CredentialSuite) TestMintRequiresResumeHash() {
	_, _, err := s.tokens.Mint(s.applicant, s.reg, MintInput{Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", EmployerName: "Acme"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *CredentialSuite) TestMintWithIdempotencyKeyReturnsOriginal() {
	in := MintInput{
		Applicant:      testutil.Parties.Applicant,
		ApplicantName:  "Ada",
		ResumeHash:     "bafy",
		EmployerName:   "Acme",
		IdempotencyKey: "retry-1",
	}
	drafts, first, err := s.tokens.Mint(s.applicant, s.reg, in)
	s.commit(drafts, err)

	drafts, again, err := s.tokens.Mint(s.applicant, s.reg, in)
	s.Require().NoError(err)
	s.Empty(drafts)
	s.Equal(first, again)
	s.Equal(1, s.tokens.Count())
}

func (s *CredentialSuite) TestMintBindsUnambiguousEmployer() {
	bound := s.token(s.mint("Acme"))
	acme, _ := s.reg.Employer(testutil.Parties.Acme)
	s.Equal(acme.ID, bound.EmployerID)

	unbound := s.token(s.mint("Initech"))
	s.True(unbound.EmployerID.IsNil())
}

func (s *CredentialSuite) TestEmployerVerification() {
	tokenID := s.mint("Acme")

	drafts, err := s.tokens.VerifyByEmployer(s.acme, tokenID)
	s.Require().NoError(err)
	s.Require().Len(drafts, 1)
	s.commit(drafts, nil)
	s.True(s.token(tokenID).EmployerVerified)

	again, err := s.tokens.VerifyByEmployer(s.acme, tokenID)
	s.NoError(err)
	s.Empty(again, "second verification is a no-op")
}

func (s *CredentialSuite) TestEmployerVerificationRejectsOtherParties() {
	tokenID := s.mint("Acme")

	_, err := s.tokens.VerifyByEmployer(s.globex, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer), "employer named differently")

	_, err = s.tokens.VerifyByEmployer(s.applicant, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer), "not an employer")

	_, err = s.tokens.VerifyByEmployer(s.acme, 99)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.False(s.token(tokenID).EmployerVerified)
}

func (s *CredentialSuite) TestUnboundTokenMatchesNameCaseSensitively() {
	// Registered after the mint, so the token carries only the name.
	tokenID := s.mint("Initech")
	admin := id.AdminActor{Addr: testutil.Parties.Admin}
	initech := testutil.Address(0x1e)
	s.commit(s.reg.RegisterEmployer(admin, initech, "Initech"))
	lower := testutil.Address(0x1f)
	s.commit(s.reg.RegisterEmployer(admin, lower, "initech"))

	_, err := s.tokens.VerifyByEmployer(s.resolve(lower, id.RoleEmployer), tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer))

	drafts, err := s.tokens.VerifyByEmployer(s.resolve(initech, id.RoleEmployer), tokenID)
	s.commit(drafts, err)
	s.True(s.token(tokenID).EmployerVerified)
}

func (s *CredentialSuite) TestHandshake() {
	tokenID := s.mint("Acme")
	s.Equal(StatusNotRequested, s.token(tokenID).Status())

	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "stateu", ""))
	t := s.token(tokenID)
	s.Require().NotNil(t.Request)
	s.Equal("StateU", t.Request.InstitutionName, "stored under the registered spelling")
	s.Equal("Acme", t.Request.EmployerName, "falls back to the caller's name")
	s.Equal(StatusRequested, t.Status())

	_, err := s.tokens.VerifyByInstitution(s.otherU, tokenID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedInstitution))

	s.commit(s.tokens.VerifyByInstitution(s.stateU, tokenID))
	t = s.token(tokenID)
	s.True(t.InstitutionVerified)
	s.Equal(StatusApproved, t.Status())

	again, err := s.tokens.VerifyByInstitution(s.stateU, tokenID)
	s.NoError(err)
	s.Empty(again)

	_, err = s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "OtherU", "")
	s.True(dErrors.HasReason(err, dErrors.ReasonAlreadyApproved))
}

func (s *CredentialSuite) TestVerifyWithoutRequestIsNoSuchRequest() {
	tokenID := s.mint("Acme")

	_, err := s.tokens.VerifyByInstitution(s.stateU, tokenID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.True(dErrors.HasReason(err, dErrors.ReasonNoSuchRequest))
	s.False(s.token(tokenID).InstitutionVerified)
}

func (s *CredentialSuite) TestLatestRequestWins() {
	tokenID := s.mint("Acme")
	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "StateU", ""))
	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "OtherU", ""))

	_, err := s.tokens.VerifyByInstitution(s.stateU, tokenID)
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedInstitution), "overwritten request is no longer approvable")

	stateU, _ := s.reg.Institution(testutil.Parties.StateU)
	otherU, _ := s.reg.Institution(testutil.Parties.OtherU)
	s.Empty(s.tokens.RequestsFor(stateU))
	s.Len(s.tokens.RequestsFor(otherU), 1)

	s.commit(s.tokens.VerifyByInstitution(s.otherU, tokenID))
	s.True(s.token(tokenID).InstitutionVerified)
}

func (s *CredentialSuite) TestRepeatedRequestIsNoOp() {
	tokenID := s.mint("Acme")
	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "StateU", "Acme"))

	drafts, err := s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "STATEU", "Acme")
	s.NoError(err)
	s.Empty(drafts)
}

func (s *CredentialSuite) TestRequestRules() {
	tokenID := s.mint("Acme")

	_, err := s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "Nowhere U", "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.HasReason(err, dErrors.ReasonUnknownInstitution))

	_, err = s.tokens.RequestVerificationByInstitution(s.stateU, s.reg, tokenID, "StateU", "")
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer), "institutions cannot request")

	_, err = s.tokens.RequestVerificationByInstitution(s.globex, s.reg, tokenID, "StateU", "")
	s.True(dErrors.HasReason(err, dErrors.ReasonNotAuthorizedEmployer), "only the addressed employer may request")

	s.Nil(s.token(tokenID).Request)
}

func (s *CredentialSuite) TestFlagsAreMonotonicUnderReplay() {
	tokenID := s.mint("Acme")
	s.commit(s.tokens.VerifyByEmployer(s.acme, tokenID))
	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "StateU", ""))
	s.commit(s.tokens.VerifyByInstitution(s.stateU, tokenID))

	// A late request event must not reopen an approved handshake.
	late, err := ledger.NewDraft(ledger.KindInstitutionVerificationRequested, ledger.InstitutionVerificationRequested{
		TokenID: tokenID, InstitutionName: "OtherU",
	})
	s.Require().NoError(err)
	s.commit([]ledger.Draft{late}, nil)

	t := s.token(tokenID)
	s.True(t.EmployerVerified)
	s.True(t.InstitutionVerified)
	s.Equal("StateU", t.Request.InstitutionName)
}

func (s *CredentialSuite) TestEmployerView() {
	s.mint("Acme")
	s.mint("Globex")
	s.mint("Acme")

	acme, _ := s.reg.Employer(testutil.Parties.Acme)
	addressed := s.tokens.ByEmployer(acme)
	s.Require().Len(addressed, 2)
	s.Equal(id.TokenID(1), addressed[0].ID)
	s.Equal(id.TokenID(3), addressed[1].ID)
}

func (s *CredentialSuite) TestReadsReturnCopies() {
	tokenID := s.mint("Acme")
	s.commit(s.tokens.RequestVerificationByInstitution(s.acme, s.reg, tokenID, "StateU", ""))

	t := s.token(tokenID)
	t.Request.InstitutionName = "tampered"
	t.EmployerVerified = true

	fresh := s.token(tokenID)
	s.Equal("StateU", fresh.Request.InstitutionName)
	s.False(fresh.EmployerVerified)
}

func (s *CredentialSuite) TestSnapshotRoundTrip() {
	s.mint("Acme")
	drafts, _, err := s.tokens.Mint(s.applicant, s.reg, MintInput{
		Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", ResumeHash: "bafy2", EmployerName: "Acme", IdempotencyKey: "k",
	})
	s.commit(drafts, err)

	raw, err := json.Marshal(s.tokens)
	s.Require().NoError(err)
	restored := New()
	s.Require().NoError(json.Unmarshal(raw, restored))

	s.Equal(s.tokens.ByApplicant(testutil.Parties.Applicant), restored.ByApplicant(testutil.Parties.Applicant))
	s.Equal(s.tokens.NextID(), restored.NextID())

	_, again, err := restored.Mint(s.applicant, s.reg, MintInput{
		Applicant: testutil.Parties.Applicant, ApplicantName: "Ada", ResumeHash: "bafy2", EmployerName: "Acme", IdempotencyKey: "k",
	})
	s.Require().NoError(err)
	s.Equal(id.TokenID(2), again)
}

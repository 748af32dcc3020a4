package credential

import (
	"strings"

	"trustid/internal/ledger"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

// MintInput is an applicant's credential submission.
type MintInput struct {
	Applicant      id.Address
	ApplicantName  string
	ResumeHash     string
	EmployerName   string
	IdempotencyKey string
}

// Mint decides a new token. A repeated idempotency key from the same
// applicant returns the original token id and no drafts.
func (s *State) Mint(caller id.Actor, reg *registry.State, in MintInput) ([]ledger.Draft, id.TokenID, error) {
	if !id.Can(caller, id.CapMint) || caller.Address() != in.Applicant {
		return nil, 0, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonCallerMismatch, "applicants may only mint for themselves")
	}
	in.ResumeHash = strings.TrimSpace(in.ResumeHash)
	in.EmployerName = strings.TrimSpace(in.EmployerName)
	in.ApplicantName = strings.TrimSpace(in.ApplicantName)
	switch {
	case in.ResumeHash == "":
		return nil, 0, dErrors.New(dErrors.CodeInvalidInput, "resume hash is required")
	case in.EmployerName == "":
		return nil, 0, dErrors.New(dErrors.CodeInvalidInput, "employer name is required")
	case in.ApplicantName == "":
		return nil, 0, dErrors.New(dErrors.CodeInvalidInput, "applicant name is required")
	}

	if in.IdempotencyKey != "" {
		if existing, ok := s.idempotency[idempotencyKey{applicant: in.Applicant, key: in.IdempotencyKey}]; ok {
			return nil, existing, nil
		}
	}

	payload := ledger.CredentialMinted{
		TokenID:        s.NextID(),
		Applicant:      in.Applicant,
		ApplicantName:  in.ApplicantName,
		ResumeHash:     in.ResumeHash,
		EmployerName:   in.EmployerName,
		IdempotencyKey: in.IdempotencyKey,
	}
	// Bind only when the name is unambiguous; otherwise the name shim applies.
	if matches := reg.EmployersByName(in.EmployerName); len(matches) == 1 {
		payload.EmployerID = matches[0].ID
	}
	d, err := ledger.NewDraft(ledger.KindCredentialMinted, payload)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode mint")
	}
	return []ledger.Draft{d}, payload.TokenID, nil
}

// VerifyByEmployer decides the employer attestation.
func (s *State) VerifyByEmployer(caller id.Actor, tokenID id.TokenID) ([]ledger.Draft, error) {
	employer, err := asEmployer(caller)
	if err != nil {
		return nil, err
	}
	t, err := s.lookup(tokenID)
	if err != nil {
		return nil, err
	}
	if !addressedTo(t, registry.Party{ID: employer.PartyID, Name: employer.Name}) {
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "token is not addressed to this employer")
	}
	if t.EmployerVerified {
		return nil, nil
	}
	d, err := ledger.NewDraft(ledger.KindEmployerVerified, ledger.EmployerVerified{TokenID: tokenID, Employer: employer.Addr})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode verification")
	}
	return []ledger.Draft{d}, nil
}

// RequestVerificationByInstitution decides a handshake request. The new
// request replaces any earlier one; an approved token accepts no more.
func (s *State) RequestVerificationByInstitution(caller id.Actor, reg *registry.State, tokenID id.TokenID, institutionName, employerName string) ([]ledger.Draft, error) {
	employer, err := asEmployer(caller)
	if err != nil {
		return nil, err
	}
	if !id.Can(employer, id.CapRequestInstitution) {
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "caller may not request institution verification")
	}
	t, err := s.lookup(tokenID)
	if err != nil {
		return nil, err
	}
	if !addressedTo(t, registry.Party{ID: employer.PartyID, Name: employer.Name}) {
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "token is not addressed to this employer")
	}
	if t.InstitutionVerified {
		return nil, dErrors.WithReason(dErrors.CodeInvalidState, dErrors.ReasonAlreadyApproved, "token is already verified by an institution")
	}
	institutionName = strings.TrimSpace(institutionName)
	if institutionName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution name is required")
	}
	institution, ok := reg.InstitutionByName(institutionName)
	if !ok {
		return nil, dErrors.WithReason(dErrors.CodeNotFound, dErrors.ReasonUnknownInstitution, "no registered institution named "+institutionName)
	}
	employerName = strings.TrimSpace(employerName)
	if employerName == "" {
		employerName = employer.Name
	}
	if r := t.Request; r != nil && r.InstitutionID == institution.ID && r.EmployerName == employerName {
		return nil, nil
	}
	d, err := ledger.NewDraft(ledger.KindInstitutionVerificationRequested, ledger.InstitutionVerificationRequested{
		TokenID:         tokenID,
		Employer:        employer.Addr,
		EmployerName:    employerName,
		InstitutionName: institution.Name,
		InstitutionID:   institution.ID,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request")
	}
	return []ledger.Draft{d}, nil
}

// VerifyByInstitution decides the approval of the token's current request.
func (s *State) VerifyByInstitution(caller id.Actor, tokenID id.TokenID) ([]ledger.Draft, error) {
	institution, ok := caller.(id.InstitutionActor)
	if !ok || !id.Can(institution, id.CapVerifyAsInstitution) {
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedInstitution, "caller is not a registered institution")
	}
	t, err := s.lookup(tokenID)
	if err != nil {
		return nil, err
	}
	if t.Request == nil {
		return nil, dErrors.WithReason(dErrors.CodeInvalidState, dErrors.ReasonNoSuchRequest, "no institution verification was requested for this token")
	}
	if !requestedOf(t.Request, registry.Party{ID: institution.PartyID, Name: institution.Name}) {
		return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedInstitution, "request is addressed to another institution")
	}
	if t.InstitutionVerified {
		return nil, nil
	}
	d, err := ledger.NewDraft(ledger.KindInstitutionVerified, ledger.InstitutionVerified{TokenID: tokenID, Institution: institution.Addr})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode approval")
	}
	return []ledger.Draft{d}, nil
}

func (s *State) lookup(tokenID id.TokenID) (*Token, error) {
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, dErrors.WithReason(dErrors.CodeNotFound, dErrors.ReasonUnknownToken, "token not found")
	}
	return t, nil
}

func asEmployer(caller id.Actor) (id.EmployerActor, error) {
	employer, ok := caller.(id.EmployerActor)
	if !ok || !id.Can(employer, id.CapVerifyAsEmployer) {
		return id.EmployerActor{}, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "caller is not a registered employer")
	}
	return employer, nil
}

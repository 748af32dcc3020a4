package contract

import (
	"context"

	"trustid/internal/credential"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

// Snapshot runs fn against the state folded over [1, asOf]; asOf zero means
// the current tip. fn receives the prefix length actually served and must
// not retain the state.
func (p *Program) Snapshot(ctx context.Context, asOf uint64, fn func(s *State, asOf uint64) error) error {
	return p.view.Read(ctx, asOf, fn)
}

// Tip returns the current ledger length.
func (p *Program) Tip(ctx context.Context) (uint64, error) {
	return p.log.Tip(ctx)
}

func query[T any](ctx context.Context, p *Program, asOf uint64, fn func(s *State) (T, error)) (T, error) {
	var out T
	err := p.view.Read(ctx, asOf, func(s *State, _ uint64) error {
		var err error
		out, err = fn(s)
		return err
	})
	return out, err
}

func (p *Program) IsEmployer(ctx context.Context, asOf uint64, addr id.Address) (bool, error) {
	return query(ctx, p, asOf, func(s *State) (bool, error) { return s.Registry.IsEmployer(addr), nil })
}

func (p *Program) IsInstitution(ctx context.Context, asOf uint64, addr id.Address) (bool, error) {
	return query(ctx, p, asOf, func(s *State) (bool, error) { return s.Registry.IsInstitution(addr), nil })
}

// InstitutionName returns "" for an address that is not an institution.
func (p *Program) InstitutionName(ctx context.Context, asOf uint64, addr id.Address) (string, error) {
	return query(ctx, p, asOf, func(s *State) (string, error) { return s.Registry.InstitutionName(addr), nil })
}

func (p *Program) Employers(ctx context.Context, asOf uint64) ([]registry.Party, error) {
	return query(ctx, p, asOf, func(s *State) ([]registry.Party, error) { return s.Registry.Employers(), nil })
}

func (p *Program) Institutions(ctx context.Context, asOf uint64) ([]registry.Party, error) {
	return query(ctx, p, asOf, func(s *State) ([]registry.Party, error) { return s.Registry.Institutions(), nil })
}

// GetResume returns the applicant's most recently minted token.
func (p *Program) GetResume(ctx context.Context, asOf uint64, applicant id.Address) (credential.Token, error) {
	return query(ctx, p, asOf, func(s *State) (credential.Token, error) {
		t, ok := s.Credentials.Latest(applicant)
		if !ok {
			return credential.Token{}, dErrors.WithReason(dErrors.CodeNotFound, dErrors.ReasonUnknownToken, "applicant has no credentials")
		}
		return t, nil
	})
}

// Token returns one token.
func (p *Program) Token(ctx context.Context, asOf uint64, tokenID id.TokenID) (credential.Token, error) {
	return query(ctx, p, asOf, func(s *State) (credential.Token, error) {
		return tokenAt(s, tokenID)
	})
}

// GetInstitutionRequest returns the token's current request, or nil.
func (p *Program) GetInstitutionRequest(ctx context.Context, asOf uint64, tokenID id.TokenID) (*credential.Request, error) {
	t, err := p.Token(ctx, asOf, tokenID)
	if err != nil {
		return nil, err
	}
	return t.Request, nil
}

func (p *Program) IsVerifiedByEmployer(ctx context.Context, asOf uint64, tokenID id.TokenID) (bool, error) {
	t, err := p.Token(ctx, asOf, tokenID)
	return t.EmployerVerified, err
}

func (p *Program) IsVerifiedByInstitution(ctx context.Context, asOf uint64, tokenID id.TokenID) (bool, error) {
	t, err := p.Token(ctx, asOf, tokenID)
	return t.InstitutionVerified, err
}

func (p *Program) Status(ctx context.Context, asOf uint64, tokenID id.TokenID) (credential.Status, error) {
	t, err := p.Token(ctx, asOf, tokenID)
	if err != nil {
		return "", err
	}
	return t.Status(), nil
}

// TokensOf returns the applicant's tokens in mint order.
func (p *Program) TokensOf(ctx context.Context, asOf uint64, applicant id.Address) ([]credential.Token, error) {
	return query(ctx, p, asOf, func(s *State) ([]credential.Token, error) {
		return s.Credentials.ByApplicant(applicant), nil
	})
}

// TokensForEmployer returns the tokens addressed to a registered employer.
func (p *Program) TokensForEmployer(ctx context.Context, asOf uint64, employer id.Address) ([]credential.Token, error) {
	return query(ctx, p, asOf, func(s *State) ([]credential.Token, error) {
		party, ok := s.Registry.Employer(employer)
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "caller is not a registered employer")
		}
		return s.Credentials.ByEmployer(party), nil
	})
}

// RequestsForInstitution returns tokens whose current request names a
// registered institution.
func (p *Program) RequestsForInstitution(ctx context.Context, asOf uint64, institution id.Address) ([]credential.Token, error) {
	return query(ctx, p, asOf, func(s *State) ([]credential.Token, error) {
		party, ok := s.Registry.Institution(institution)
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedInstitution, "caller is not a registered institution")
		}
		return s.Credentials.RequestsFor(party), nil
	})
}

func tokenAt(s *State, tokenID id.TokenID) (credential.Token, error) {
	t, ok := s.Credentials.Token(tokenID)
	if !ok {
		return credential.Token{}, dErrors.WithReason(dErrors.CodeNotFound, dErrors.ReasonUnknownToken, "token not found")
	}
	return t, nil
}

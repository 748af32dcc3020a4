package registry

import (
	"strings"

	"trustid/internal/ledger"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

// RegisterEmployer decides an employer registration. Re-registering an
// existing employer returns no drafts.
func (s *State) RegisterEmployer(caller id.Actor, employer id.Address, name string) ([]ledger.Draft, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if employer.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "employer address is required")
	}
	if s.IsEmployer(employer) {
		return nil, nil
	}
	d, err := ledger.NewDraft(ledger.KindEmployerRegistered, ledger.EmployerRegistered{
		Employer:   employer,
		EmployerID: id.NewPartyID(),
		Name:       strings.TrimSpace(name),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode registration")
	}
	return []ledger.Draft{d}, nil
}

// RegisterInstitution decides an institution registration. The same
// registration submitted twice is a no-op; a different name for a
// registered address, or a name another institution holds, is rejected.
func (s *State) RegisterInstitution(caller id.Actor, institution id.Address, name string) ([]ledger.Draft, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if institution.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution address is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution name is required")
	}
	if existing, ok := s.Institution(institution); ok {
		if strings.EqualFold(existing.Name, name) {
			return nil, nil
		}
		return nil, dErrors.WithReason(dErrors.CodeInvalidState, dErrors.ReasonAlreadyRegistered,
			"address is already registered as institution "+existing.Name)
	}
	if holder, ok := s.InstitutionByName(name); ok {
		return nil, dErrors.WithReason(dErrors.CodeConflict, dErrors.ReasonNameTaken,
			"institution name is already registered to "+holder.Address.String())
	}
	d, err := ledger.NewDraft(ledger.KindInstitutionRegistered, ledger.InstitutionRegistered{
		Institution:   institution,
		InstitutionID: id.NewPartyID(),
		Name:          name,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode registration")
	}
	return []ledger.Draft{d}, nil
}

func requireAdmin(caller id.Actor) error {
	if !id.Can(caller, id.CapRegisterRoles) {
		return dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAdmin, "only the registry admin may register roles")
	}
	return nil
}

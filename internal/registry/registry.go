// Package registry is the role registry: which addresses may act as
// employers or institutions, folded from registration events.
package registry

import (
	"encoding/json"
	"strings"
	"time"

	"trustid/internal/ledger"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

// Party is a registered employer or institution.
type Party struct {
	Address      id.Address `json:"address"`
	ID           id.PartyID `json:"id"`
	Name         string     `json:"name"`
	Seq          uint64     `json:"seq"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// State is the folded registry. Parties are kept in first-seen order and
// duplicate registration events are ignored.
type State struct {
	admin            id.Address
	employers        map[id.Address]Party
	employerOrder    []id.Address
	institutions     map[id.Address]Party
	institutionOrder []id.Address
}

// New creates an empty registry governed by admin.
func New(admin id.Address) *State {
	return &State{
		admin:        admin,
		employers:    make(map[id.Address]Party),
		institutions: make(map[id.Address]Party),
	}
}

func (s *State) Admin() id.Address { return s.admin }

// Apply folds one event into the registry. Events of other kinds are ignored.
func (s *State) Apply(e ledger.Event) error {
	switch e.Kind {
	case ledger.KindEmployerRegistered:
		p, err := ledger.Decode[ledger.EmployerRegistered](e)
		if err != nil {
			return err
		}
		if _, ok := s.employers[p.Employer]; ok {
			return nil
		}
		s.employers[p.Employer] = Party{Address: p.Employer, ID: p.EmployerID, Name: p.Name, Seq: e.Seq, RegisteredAt: e.Timestamp}
		s.employerOrder = append(s.employerOrder, p.Employer)
	case ledger.KindInstitutionRegistered:
		p, err := ledger.Decode[ledger.InstitutionRegistered](e)
		if err != nil {
			return err
		}
		if _, ok := s.institutions[p.Institution]; ok {
			return nil
		}
		s.institutions[p.Institution] = Party{Address: p.Institution, ID: p.InstitutionID, Name: p.Name, Seq: e.Seq, RegisteredAt: e.Timestamp}
		s.institutionOrder = append(s.institutionOrder, p.Institution)
	}
	return nil
}

func (s *State) IsEmployer(addr id.Address) bool {
	_, ok := s.employers[addr]
	return ok
}

func (s *State) IsInstitution(addr id.Address) bool {
	_, ok := s.institutions[addr]
	return ok
}

func (s *State) Employer(addr id.Address) (Party, bool) {
	p, ok := s.employers[addr]
	return p, ok
}

func (s *State) Institution(addr id.Address) (Party, bool) {
	p, ok := s.institutions[addr]
	return p, ok
}

// InstitutionName returns "" for an address that is not an institution.
func (s *State) InstitutionName(addr id.Address) string {
	return s.institutions[addr].Name
}

// InstitutionByName resolves a name case-insensitively. The earliest
// registration wins if several share a spelling.
func (s *State) InstitutionByName(name string) (Party, bool) {
	name = strings.TrimSpace(name)
	for _, addr := range s.institutionOrder {
		if p := s.institutions[addr]; strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Party{}, false
}

// EmployersByName returns employers whose display name equals name exactly.
func (s *State) EmployersByName(name string) []Party {
	var out []Party
	for _, addr := range s.employerOrder {
		if p := s.employers[addr]; p.Name != "" && p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Employers returns registered employers in first-seen order.
func (s *State) Employers() []Party {
	out := make([]Party, 0, len(s.employerOrder))
	for _, addr := range s.employerOrder {
		out = append(out, s.employers[addr])
	}
	return out
}

// Institutions returns registered institutions in first-seen order.
func (s *State) Institutions() []Party {
	out := make([]Party, 0, len(s.institutionOrder))
	for _, addr := range s.institutionOrder {
		out = append(out, s.institutions[addr])
	}
	return out
}

// Resolve turns a caller address into an actor of the requested role, or
// fails with the reason naming the missing registration.
func (s *State) Resolve(caller id.Address, as id.Role) (id.Actor, error) {
	switch as {
	case id.RoleAdmin:
		if s.admin.IsZero() || caller != s.admin {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAdmin, "caller is not the registry admin")
		}
		return id.AdminActor{Addr: caller}, nil
	case id.RoleEmployer:
		p, ok := s.employers[caller]
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "caller is not a registered employer")
		}
		return id.EmployerActor{Addr: caller, PartyID: p.ID, Name: p.Name}, nil
	case id.RoleInstitution:
		p, ok := s.institutions[caller]
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedInstitution, "caller is not a registered institution")
		}
		return id.InstitutionActor{Addr: caller, PartyID: p.ID, Name: p.Name}, nil
	default:
		return id.ApplicantActor{Addr: caller}, nil
	}
}

// snapshot carries the registered parties only. The admin is configuration,
// not ledger state, so a restored registry keeps the admin it was built with.
type snapshot struct {
	Employers    []Party `json:"employers"`
	Institutions []Party `json:"institutions"`
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{Employers: s.Employers(), Institutions: s.Institutions()})
}

func (s *State) UnmarshalJSON(b []byte) error {
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	*s = *New(s.admin)
	for _, p := range snap.Employers {
		s.employers[p.Address] = p
		s.employerOrder = append(s.employerOrder, p.Address)
	}
	for _, p := range snap.Institutions {
		s.institutions[p.Address] = p
		s.institutionOrder = append(s.institutionOrder, p.Address)
	}
	return nil
}

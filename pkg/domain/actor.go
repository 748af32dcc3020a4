package domain

// Actor is a caller resolved against the role registry. The set of
// implementations is closed; rules switch on the concrete type rather than
// comparing display names.
type Actor interface {
	Address() Address
	Role() Role
	actor()
}

// ApplicantActor is any caller acting on its own behalf.
type ApplicantActor struct {
	Addr Address
}

// EmployerActor is a caller registered as an employer.
type EmployerActor struct {
	Addr    Address
	PartyID PartyID
	Name    string
}

// InstitutionActor is a caller registered as an institution.
type InstitutionActor struct {
	Addr    Address
	PartyID PartyID
	Name    string
}

// AdminActor is the single platform administrator.
type AdminActor struct {
	Addr Address
}

func (a ApplicantActor) Address() Address   { return a.Addr }
func (a EmployerActor) Address() Address    { return a.Addr }
func (a InstitutionActor) Address() Address { return a.Addr }
func (a AdminActor) Address() Address       { return a.Addr }

func (ApplicantActor) Role() Role   { return RoleApplicant }
func (EmployerActor) Role() Role    { return RoleEmployer }
func (InstitutionActor) Role() Role { return RoleInstitution }
func (AdminActor) Role() Role       { return RoleAdmin }

func (ApplicantActor) actor()   {}
func (EmployerActor) actor()    {}
func (InstitutionActor) actor() {}
func (AdminActor) actor()       {}

// Can reports whether the actor's role carries the capability.
func Can(a Actor, c Capability) bool {
	return a != nil && a.Role().Can(c)
}

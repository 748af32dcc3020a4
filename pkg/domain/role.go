package domain

import (
	"strings"

	dErrors "trustid/pkg/domain-errors"
)

// Role is the closed set of parties the platform recognizes.
type Role string

const (
	RoleApplicant   Role = "applicant"
	RoleEmployer    Role = "employer"
	RoleInstitution Role = "institution"
	RoleAdmin       Role = "admin"
)

// Capability names a single permission checked by the ledger program.
type Capability int

const (
	CapRegisterRoles Capability = iota + 1
	CapMint
	CapVerifyAsEmployer
	CapRequestInstitution
	CapVerifyAsInstitution
)

var capabilities = map[Role][]Capability{
	RoleApplicant:   {CapMint},
	RoleEmployer:    {CapMint, CapVerifyAsEmployer, CapRequestInstitution},
	RoleInstitution: {CapMint, CapVerifyAsInstitution},
	RoleAdmin:       {CapMint, CapRegisterRoles},
}

// ParseRole rejects free text; only the four known roles are accepted.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role must be one of applicant, employer, institution, admin")
	}
	return r, nil
}

// Can reports whether the role carries the capability.
func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// OnLedger reports whether the role must be registered in the ledger's role registry.
func (r Role) OnLedger() bool {
	return r == RoleEmployer || r == RoleInstitution
}

func (r Role) String() string { return string(r) }

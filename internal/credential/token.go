// Package credential holds the credential token lifecycle: minting, the
// employer attestation and the institution verification handshake.
package credential

import (
	"time"

	id "trustid/pkg/domain"
)

// Status is the applicant-facing state of the institution handshake.
type Status string

const (
	StatusNotRequested Status = "Not Requested"
	StatusRequested    Status = "Requested"
	StatusApproved     Status = "Approved"
)

// Request is the single outstanding institution verification request on a token.
type Request struct {
	InstitutionName string     `json:"institution_name"`
	InstitutionID   id.PartyID `json:"institution_id"`
	Employer        id.Address `json:"employer"`
	EmployerName    string     `json:"employer_name"`
	RequestedAt     time.Time  `json:"requested_at"`
	Seq             uint64     `json:"seq"`
}

// Token is a notarized credential document and its two attestations.
type Token struct {
	ID                  id.TokenID `json:"id"`
	Applicant           id.Address `json:"applicant"`
	ApplicantName       string     `json:"applicant_name"`
	ResumeHash          string     `json:"resume_hash"`
	EmployerName        string     `json:"employer_name"`
	EmployerID          id.PartyID `json:"employer_id"`
	EmployerVerified    bool       `json:"employer_verified"`
	Request             *Request   `json:"request,omitempty"`
	InstitutionVerified bool       `json:"institution_verified"`
	MintedAt            time.Time  `json:"minted_at"`
	Seq                 uint64     `json:"seq"`
	IdempotencyKey      string     `json:"idempotency_key,omitempty"`
}

func (t Token) Status() Status {
	switch {
	case t.InstitutionVerified:
		return StatusApproved
	case t.Request != nil:
		return StatusRequested
	default:
		return StatusNotRequested
	}
}

// clone returns a copy that shares no memory with the folded state.
func (t *Token) clone() Token {
	out := *t
	if t.Request != nil {
		r := *t.Request
		out.Request = &r
	}
	return out
}

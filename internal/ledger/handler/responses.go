package handler

import (
	"time"

	"trustid/internal/credential"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
)

type AdminResponse struct {
	Admin   id.Address `json:"admin"`
	IsAdmin bool       `json:"is_admin"`
}

type PartiesResponse struct {
	AsOf    uint64           `json:"as_of"`
	Parties []registry.Party `json:"parties"`
}

type DocumentResponse struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// Credential is a token as presented to portals, with its handshake status.
type Credential struct {
	ID                  id.TokenID          `json:"id"`
	Applicant           id.Address          `json:"applicant"`
	ApplicantName       string              `json:"applicant_name"`
	ResumeHash          string              `json:"resume_hash"`
	DocumentURL         string              `json:"document_url,omitempty"`
	EmployerName        string              `json:"employer_name"`
	EmployerVerified    bool                `json:"employer_verified"`
	Request             *credential.Request `json:"request,omitempty"`
	InstitutionVerified bool                `json:"institution_verified"`
	Status              credential.Status   `json:"status"`
	MintedAt            time.Time           `json:"minted_at"`
	Seq                 uint64              `json:"seq"`
}

type CredentialsResponse struct {
	AsOf        uint64       `json:"as_of"`
	Credentials []Credential `json:"credentials"`
}

type CredentialDetailResponse struct {
	AsOf       uint64     `json:"as_of"`
	Credential Credential `json:"credential"`
}

// AddressedResponse is the employer dashboard.
type AddressedResponse struct {
	AsOf                uint64       `json:"as_of"`
	Employer            string       `json:"employer"`
	Credentials         []Credential `json:"credentials"`
	EmployerVerified    int          `json:"employer_verified_count"`
	InstitutionVerified int          `json:"institution_verified_count"`
}

// RequestsResponse is the institution dashboard.
type RequestsResponse struct {
	AsOf        uint64       `json:"as_of"`
	Institution string       `json:"institution"`
	Requests    []Credential `json:"requests"`
}

func toCredential(t credential.Token) Credential {
	return Credential{
		ID:                  t.ID,
		Applicant:           t.Applicant,
		ApplicantName:       t.ApplicantName,
		ResumeHash:          t.ResumeHash,
		EmployerName:        t.EmployerName,
		EmployerVerified:    t.EmployerVerified,
		Request:             t.Request,
		InstitutionVerified: t.InstitutionVerified,
		Status:              t.Status(),
		MintedAt:            t.MintedAt,
		Seq:                 t.Seq,
	}
}

func toCredentials(tokens []credential.Token) []Credential {
	out := make([]Credential, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toCredential(t))
	}
	return out
}

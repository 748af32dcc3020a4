package handler

import (
	"strings"

	id "trustid/pkg/domain"
	"trustid/pkg/validation"
)

// RegisterPartyRequest registers an employer or institution on the ledger.
type RegisterPartyRequest struct {
	Address string `json:"address" validate:"required"`
	Name    string `json:"name" validate:"required,notblank,max=128"`

	address id.Address
}

func (r *RegisterPartyRequest) Normalize() {
	r.Address = strings.TrimSpace(r.Address)
	r.Name = strings.TrimSpace(r.Name)
}

func (r *RegisterPartyRequest) Validate() error {
	if err := validation.Validate(r); err != nil {
		return err
	}
	addr, err := id.ParseAddress(r.Address)
	if err != nil {
		return err
	}
	r.address = addr
	return nil
}

// MintRequest is an applicant's credential submission. ResumeHash is the
// content hash returned by the document upload, used verbatim.
type MintRequest struct {
	ApplicantName string `json:"applicant_name" validate:"required,notblank,max=128"`
	ResumeHash    string `json:"resume_hash" validate:"required,notblank,max=256"`
	EmployerName  string `json:"employer_name" validate:"required,notblank,max=128"`
}

func (r *MintRequest) Normalize() {
	r.ApplicantName = strings.TrimSpace(r.ApplicantName)
	r.ResumeHash = strings.TrimSpace(r.ResumeHash)
	r.EmployerName = strings.TrimSpace(r.EmployerName)
}

func (r *MintRequest) Validate() error {
	return validation.Validate(r)
}

// InstitutionRequest asks an institution to confirm a token. An empty
// EmployerName falls back to the caller's registered name.
type InstitutionRequest struct {
	InstitutionName string `json:"institution_name" validate:"required,notblank,max=128"`
	EmployerName    string `json:"employer_name" validate:"max=128"`
}

func (r *InstitutionRequest) Normalize() {
	r.InstitutionName = strings.TrimSpace(r.InstitutionName)
	r.EmployerName = strings.TrimSpace(r.EmployerName)
}

func (r *InstitutionRequest) Validate() error {
	return validation.Validate(r)
}

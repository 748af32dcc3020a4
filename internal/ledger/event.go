// Package ledger is the boundary to the trusted ledger platform: an
// append-only, totally ordered log of immutable events with atomic
// submission and read-your-writes.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	id "trustid/pkg/domain"
)

// Kind names an event type in the ledger ABI.
type Kind string

const (
	KindEmployerRegistered               Kind = "EmployerRegistered"
	KindInstitutionRegistered            Kind = "InstitutionRegistered"
	KindCredentialMinted                 Kind = "CredentialMinted"
	KindEmployerVerified                 Kind = "EmployerVerified"
	KindInstitutionVerificationRequested Kind = "InstitutionVerificationRequested"
	KindInstitutionVerified              Kind = "InstitutionVerified"
)

// Event is one committed state transition. Seq starts at 1 and is gap-free.
type Event struct {
	Seq       uint64          `json:"seq"`
	Kind      Kind            `json:"kind"`
	TxID      id.TxID         `json:"tx_id"`
	Submitter id.Address      `json:"submitter"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Draft is an event proposed by the program; it has no Seq until committed.
type Draft struct {
	Kind    Kind
	Payload json.RawMessage
}

// NewDraft encodes a payload for submission.
func NewDraft(kind Kind, payload any) (Draft, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Draft{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Draft{Kind: kind, Payload: raw}, nil
}

// Decode unmarshals an event payload into its typed form.
func Decode[T any](e Event) (T, error) {
	var out T
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s at seq %d: %w", e.Kind, e.Seq, err)
	}
	return out, nil
}

// Payloads

type EmployerRegistered struct {
	Employer   id.Address `json:"employer"`
	EmployerID id.PartyID `json:"employer_id"`
	Name       string     `json:"name,omitempty"`
}

type InstitutionRegistered struct {
	Institution   id.Address `json:"institution"`
	InstitutionID id.PartyID `json:"institution_id"`
	Name          string     `json:"name"`
}

type CredentialMinted struct {
	TokenID        id.TokenID `json:"token_id"`
	Applicant      id.Address `json:"applicant"`
	ApplicantName  string     `json:"applicant_name"`
	ResumeHash     string     `json:"resume_hash"`
	EmployerName   string     `json:"employer_name"`
	EmployerID     id.PartyID `json:"employer_id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type EmployerVerified struct {
	TokenID  id.TokenID `json:"token_id"`
	Employer id.Address `json:"employer"`
}

type InstitutionVerificationRequested struct {
	TokenID         id.TokenID `json:"token_id"`
	Employer        id.Address `json:"employer"`
	EmployerName    string     `json:"employer_name"`
	InstitutionName string     `json:"institution_name"`
	InstitutionID   id.PartyID `json:"institution_id"`
}

type InstitutionVerified struct {
	TokenID     id.TokenID `json:"token_id"`
	Institution id.Address `json:"institution"`
}

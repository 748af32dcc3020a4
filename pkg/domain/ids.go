// Package domain provides the typed identifiers and role model shared by the
// ledger program, the identity store and the HTTP layer.
package domain

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "trustid/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a PartyID where a TxID is expected.
type (
	// PartyID identifies a registered employer or institution independently of its display name.
	PartyID uuid.UUID
	// TxID identifies one ledger submission; every event it commits carries it.
	TxID uuid.UUID
)

// TokenID is the ledger-assigned credential token number. The first token is 1.
type TokenID uint64

// Address is a canonical (lower-case, 0x-prefixed, 40 hex digit) ledger address.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ParseAddress validates a hex address and returns its canonical form.
// Mixed-case input is accepted; equality is always on the lower-case form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address cannot be empty")
	}
	if !addressPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "Invalid Ethereum address")
	}
	return Address(strings.ToLower(s)), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func NewPartyID() PartyID { return PartyID(uuid.New()) }
func NewTxID() TxID       { return TxID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParsePartyID(s string) (PartyID, error) {
	id, err := parseUUID(s, "party ID")
	return PartyID(id), err
}

func ParseTokenID(s string) (TokenID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token ID cannot be empty")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid token ID format")
	}
	return TokenID(n), nil
}

// String methods - for logging and debugging.

func (id PartyID) String() string { return uuid.UUID(id).String() }
func (id TxID) String() string    { return uuid.UUID(id).String() }
func (id TokenID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (a Address) String() string  { return string(a) }

func (id PartyID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TxID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (a Address) IsZero() bool { return a == "" }

// Text marshalling keeps ledger payloads readable.

func (id PartyID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id TxID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *PartyID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *TxID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// parseUUID is the shared validation logic.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}

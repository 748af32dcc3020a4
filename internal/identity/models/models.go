// Package models holds the identity store's records.
package models

import (
	"time"

	id "trustid/pkg/domain"
)

// Record is one platform account. The username is unique; the address is the
// ledger address the account acts as once logged in.
type Record struct {
	Username     string
	PasswordHash string
	Role         id.Role
	Address      id.Address
	CreatedAt    time.Time
}

// Listing is the public view of an account returned by role listings.
type Listing struct {
	Username string     `json:"username"`
	Address  id.Address `json:"address"`
}

func (r *Record) Listing() Listing {
	return Listing{Username: r.Username, Address: r.Address}
}

// Package contract is the ledger program: the single write path that
// validates role registration and credential transitions against the
// folded ledger state, and the read path over the same projection.
package contract

import (
	"trustid/internal/credential"
	"trustid/internal/ledger"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
)

// State is the program's folded view of the whole log.
type State struct {
	Registry    *registry.State   `json:"registry"`
	Credentials *credential.State `json:"credentials"`
}

// NewState returns a constructor for an empty state governed by admin.
func NewState(admin id.Address) func() *State {
	return func() *State {
		return &State{Registry: registry.New(admin), Credentials: credential.New()}
	}
}

// Fold applies one event to both halves of the state.
func Fold(s *State, e ledger.Event) (*State, error) {
	if err := s.Registry.Apply(e); err != nil {
		return s, err
	}
	if err := s.Credentials.Apply(e); err != nil {
		return s, err
	}
	return s, nil
}

package handler

import (
	"strings"

	"trustid/pkg/validation"
)

// LoginRequest carries the credentials checked against the identity store.
type LoginRequest struct {
	Username string `json:"username" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

func (r *LoginRequest) Validate() error {
	return validation.Validate(r)
}

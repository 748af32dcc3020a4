package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "trustid/pkg/domain-errors"
)

type registerInput struct {
	Username string `validate:"required,notblank,max=64"`
	Role     string `validate:"required,role"`
	Address  string `validate:"required,eth_addr"`
}

func TestValidate(t *testing.T) {
	valid := registerInput{Username: "acme", Role: "employer", Address: "0x00000000000000000000000000000000000000b1"}
	assert.NoError(t, Validate(valid))

	cases := map[string]struct {
		in  registerInput
		msg string
	}{
		"missing username": {registerInput{Role: "employer", Address: valid.Address}, "username is required"},
		"blank username":   {registerInput{Username: "   ", Role: "employer", Address: valid.Address}, "username must not be blank"},
		"unknown role":     {registerInput{Username: "acme", Role: "owner", Address: valid.Address}, "role must be one of applicant, employer, institution, admin"},
		"bad address":      {registerInput{Username: "acme", Role: "employer", Address: "0x12"}, "address must be a valid ethereum address"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(tc.in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.EqualError(t, err, tc.msg)
		})
	}
}

type mintInput struct {
	ResumeHash string `json:"resume_hash" validate:"required,max=4"`
	Internal   string `json:"-" validate:"oneof=a b"`
}

func TestMessagesUseJSONNames(t *testing.T) {
	err := Validate(mintInput{ResumeHash: "bafy2bz", Internal: "a"})
	assert.EqualError(t, err, "resume_hash must be at most 4")

	err = Validate(mintInput{Internal: "a"})
	assert.EqualError(t, err, "resume_hash is required")
}

func TestErrorMessageOnOtherErrors(t *testing.T) {
	assert.Equal(t, "invalid request body", ErrorMessage(assert.AnError))
}

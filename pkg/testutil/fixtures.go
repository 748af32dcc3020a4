package testutil

import (
	"fmt"

	id "trustid/pkg/domain"
)

// Parties used across test suites. Names follow the walkthrough scenario:
// an applicant applies to Acme, which asks StateU to confirm the degree.
var Parties = struct {
	Admin     id.Address
	Applicant id.Address
	Acme      id.Address
	Globex    id.Address
	StateU    id.Address
	OtherU    id.Address
	Stranger  id.Address
}{
	Admin:     id.MustAddress("0x00000000000000000000000000000000000000ad"),
	Applicant: id.MustAddress("0x00000000000000000000000000000000000000a1"),
	Acme:      id.MustAddress("0x00000000000000000000000000000000000000e1"),
	Globex:    id.MustAddress("0x00000000000000000000000000000000000000e2"),
	StateU:    id.MustAddress("0x00000000000000000000000000000000000000c1"),
	OtherU:    id.MustAddress("0x00000000000000000000000000000000000000c2"),
	Stranger:  id.MustAddress("0x00000000000000000000000000000000000000ff"),
}

// Address returns a distinct deterministic address for n.
func Address(n int) id.Address {
	return id.MustAddress(fmt.Sprintf("0x%040x", n))
}

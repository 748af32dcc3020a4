//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the credential ledger is running$`, tc.ledgerIsRunning)

	// Account steps
	ctx.Step(`^an? (applicant|employer|institution) account "([^"]*)" is registered$`, tc.accountIsRegistered)
	ctx.Step(`^the admin account "([^"]*)" is registered$`, tc.adminIsRegistered)
	ctx.Step(`^"([^"]*)" registers again as an? (applicant|employer|institution)$`, tc.registerAgain)

	// Credential steps
	ctx.Step(`^"([^"]*)" mints a credential for "([^"]*)" with idempotency key "([^"]*)"$`, tc.mintCredential)
	ctx.Step(`^"([^"]*)" verifies the credential as employer$`, tc.employerVerifies)
	ctx.Step(`^"([^"]*)" asks "([^"]*)" to verify the credential$`, tc.requestInstitution)
	ctx.Step(`^"([^"]*)" verifies the credential as institution$`, tc.institutionVerifies)
	ctx.Step(`^"([^"]*)" views the credential$`, tc.viewCredential)
	ctx.Step(`^"([^"]*)" views the credential as it was when minted$`, tc.viewCredentialAtMint)
	ctx.Step(`^"([^"]*)" GETs "([^"]*)"$`, tc.getAs)
	ctx.Step(`^"([^"]*)" POSTs to "([^"]*)"$`, tc.postAs)
	ctx.Step(`^I GET "([^"]*)" without authorization$`, tc.getWithoutAuth)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, tc.responseFieldShouldBeBool)
	ctx.Step(`^the response field "([^"]*)" should be the number (\d+)$`, tc.responseFieldShouldBeNumber)
	ctx.Step(`^the response field "([^"]*)" should have (\d+) items?$`, tc.responseFieldShouldHaveItems)
	ctx.Step(`^the response should name the same credential$`, tc.responseShouldNameSameCredential)
}

func (tc *TestContext) ledgerIsRunning(ctx context.Context) error {
	if err := tc.Do(http.MethodGet, "/health/live", "", nil, nil); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(ctx, http.StatusOK)
}

func (tc *TestContext) register(name, role, address string) error {
	a := &Account{
		Name:     name,
		Username: tc.username(name),
		Password: "correct horse battery staple",
		Role:     role,
		Address:  address,
	}
	err := tc.Do(http.MethodPost, "/api/register", "", map[string]string{
		"username": a.Username,
		"password": a.Password,
		"role":     a.Role,
		"address":  a.Address,
	}, nil)
	if err != nil {
		return err
	}
	if tc.GetLastResponseStatus() != http.StatusCreated {
		return fmt.Errorf("register %s: status %d: %s", name, tc.GetLastResponseStatus(), tc.LastResponseBody)
	}

	err = tc.Do(http.MethodPost, "/api/login", "", map[string]string{
		"username": a.Username,
		"password": a.Password,
	}, nil)
	if err != nil {
		return err
	}
	token, err := tc.GetResponseField("token")
	if err != nil {
		return fmt.Errorf("login %s: %w", name, err)
	}
	a.Token, _ = token.(string)
	tc.accounts[name] = a
	return nil
}

func (tc *TestContext) accountIsRegistered(ctx context.Context, role, name string) error {
	addr, err := randomAddress()
	if err != nil {
		return err
	}
	return tc.register(name, role, addr)
}

func (tc *TestContext) adminIsRegistered(ctx context.Context, name string) error {
	if tc.AdminAddress == "" {
		return godog.ErrPending
	}
	return tc.register(name, "admin", tc.AdminAddress)
}

func (tc *TestContext) registerAgain(ctx context.Context, name, role string) error {
	a, err := tc.account(name)
	if err != nil {
		return err
	}
	return tc.Do(http.MethodPost, "/api/register", "", map[string]string{
		"username": a.Username,
		"password": a.Password,
		"role":     role,
		"address":  a.Address,
	}, nil)
}

func (tc *TestContext) mintCredential(ctx context.Context, applicant, employer, key string) error {
	e, err := tc.account(employer)
	if err != nil {
		return err
	}
	err = tc.Do(http.MethodPost, "/ledger/credentials", applicant, map[string]string{
		"applicant_name": "Ada Lovelace",
		"resume_hash":    "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		"employer_name":  e.Username,
	}, map[string]string{"Idempotency-Key": key + "-" + tc.suffix})
	if err != nil {
		return err
	}
	if status := tc.GetLastResponseStatus(); status != http.StatusCreated && status != http.StatusOK {
		return nil
	}
	tokenID, err := tc.GetResponseField("token_id")
	if err != nil {
		return err
	}
	seq, err := tc.GetResponseField("seq")
	if err != nil {
		return err
	}
	tc.tokenID = fmt.Sprint(tokenID)
	tc.mintSeq = fmt.Sprint(seq)
	return nil
}

func (tc *TestContext) credentialPath(suffix string) (string, error) {
	if tc.tokenID == "" {
		return "", fmt.Errorf("no credential minted in this scenario")
	}
	return "/ledger/credentials/" + tc.tokenID + suffix, nil
}

func (tc *TestContext) employerVerifies(ctx context.Context, employer string) error {
	path, err := tc.credentialPath("/employer-verification")
	if err != nil {
		return err
	}
	return tc.Do(http.MethodPost, path, employer, nil, nil)
}

func (tc *TestContext) requestInstitution(ctx context.Context, employer, institution string) error {
	path, err := tc.credentialPath("/institution-request")
	if err != nil {
		return err
	}
	i, err := tc.account(institution)
	if err != nil {
		return err
	}
	return tc.Do(http.MethodPost, path, employer, map[string]string{"institution_name": i.Username}, nil)
}

func (tc *TestContext) institutionVerifies(ctx context.Context, institution string) error {
	path, err := tc.credentialPath("/institution-verification")
	if err != nil {
		return err
	}
	return tc.Do(http.MethodPost, path, institution, nil, nil)
}

func (tc *TestContext) viewCredential(ctx context.Context, who string) error {
	path, err := tc.credentialPath("")
	if err != nil {
		return err
	}
	return tc.Do(http.MethodGet, path, who, nil, nil)
}

func (tc *TestContext) viewCredentialAtMint(ctx context.Context, who string) error {
	path, err := tc.credentialPath("?as_of=" + tc.mintSeq)
	if err != nil {
		return err
	}
	return tc.Do(http.MethodGet, path, who, nil, nil)
}

func (tc *TestContext) getAs(ctx context.Context, who, path string) error {
	return tc.Do(http.MethodGet, path, who, nil, nil)
}

func (tc *TestContext) postAs(ctx context.Context, who, path string) error {
	return tc.Do(http.MethodPost, path, who, nil, nil)
}

func (tc *TestContext) getWithoutAuth(ctx context.Context, path string) error {
	return tc.Do(http.MethodGet, path, "", nil, nil)
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expected int) error {
	if got := tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expected string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(value) != expected {
		return fmt.Errorf("expected %s to be %q, got %v", field, expected, value)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldBeBool(ctx context.Context, field, expected string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if b, ok := value.(bool); !ok || strconv.FormatBool(b) != expected {
		return fmt.Errorf("expected %s to be %s, got %v", field, expected, value)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldBeNumber(ctx context.Context, field string, expected int) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if n, ok := value.(float64); !ok || int(n) != expected {
		return fmt.Errorf("expected %s to be %d, got %v", field, expected, value)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldHaveItems(ctx context.Context, field string, expected int) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("expected %s to be a list, got %T", field, value)
	}
	if len(items) != expected {
		return fmt.Errorf("expected %d items in %s, got %d", expected, field, len(items))
	}
	return nil
}

func (tc *TestContext) responseShouldNameSameCredential(ctx context.Context) error {
	return tc.responseFieldShouldEqual(ctx, "token_id", tc.tokenID)
}

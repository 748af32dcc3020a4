//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Account is a user created during a scenario. Name is the alias used in
// feature files; Username carries a per-run suffix so scenarios can run
// against a server that keeps state between runs.
type Account struct {
	Name     string
	Username string
	Password string
	Role     string
	Address  string
	Token    string
}

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	AdminAddress     string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	accounts map[string]*Account
	tokenID  string
	mintSeq  string
	suffix   string
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	tc := &TestContext{
		BaseURL:      baseURL,
		AdminAddress: os.Getenv("LEDGER_ADMIN_ADDRESS"),
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
	tc.Reset()
	return tc
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.LastResponse = nil
	tc.LastResponseBody = nil
	tc.accounts = make(map[string]*Account)
	tc.tokenID = ""
	tc.mintSeq = ""
	tc.suffix = strconv.FormatInt(time.Now().UnixNano(), 36)
}

func (tc *TestContext) account(name string) (*Account, error) {
	a, ok := tc.accounts[name]
	if !ok {
		return nil, fmt.Errorf("no account %q in this scenario", name)
	}
	return a, nil
}

func (tc *TestContext) username(name string) string {
	return name + "-" + tc.suffix
}

func randomAddress() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// Do sends a JSON request as the named account ("" for anonymous) and
// stores the response.
func (tc *TestContext) Do(method, path, as string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != "" {
		a, err := tc.account(as)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// GetResponseField extracts a dotted path from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, part := range strings.Split(field, ".") {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
		if data, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}

	return data, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"trustid/internal/blob"
	"trustid/internal/credential"
	"trustid/internal/ledger"
	"trustid/internal/ledger/contract"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/httputil"
	"trustid/pkg/platform/middleware/request"
	"trustid/pkg/requestcontext"
	"trustid/pkg/testutil"
)

type LedgerHandlerSuite struct {
	suite.Suite
	program   *contract.Program
	documents *blob.MemoryStore
	router    chi.Router
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	s.program = contract.New(ledger.NewMemoryLog(), testutil.Parties.Admin, contract.WithRetry(1, 0))
	s.documents = blob.NewMemoryStore("https://gateway.example/ipfs")
	s.router = chi.NewRouter()
	New(s.program, s.documents, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *LedgerHandlerSuite) send(caller id.Address, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(requestcontext.WithPrincipal(req.Context(), requestcontext.AuthPrincipal{Address: caller}))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *LedgerHandlerSuite) do(caller id.Address, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	return s.send(caller, method, path, &buf, "application/json")
}

func (s *LedgerHandlerSuite) decode(w *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(out))
}

func (s *LedgerHandlerSuite) errorReason(w *httptest.ResponseRecorder) string {
	var res httputil.ErrorResponse
	s.decode(w, &res)
	return res.Reason
}

func (s *LedgerHandlerSuite) seed() {
	p := testutil.Parties
	s.Require().Equal(http.StatusCreated, s.do(p.Admin, http.MethodPost, "/ledger/employers", map[string]string{"address": p.Acme.String(), "name": "Acme"}).Code)
	s.Require().Equal(http.StatusCreated, s.do(p.Admin, http.MethodPost, "/ledger/institutions", map[string]string{"address": p.StateU.String(), "name": "StateU"}).Code)
}

func (s *LedgerHandlerSuite) mint(key string) contract.Receipt {
	req := httptest.NewRequest(http.MethodPost, "/ledger/credentials", strings.NewReader(`{"applicant_name":"Ada","resume_hash":"QmResume","employer_name":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	req = req.WithContext(requestcontext.WithPrincipal(req.Context(), requestcontext.AuthPrincipal{Address: testutil.Parties.Applicant}))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Require().Contains([]int{http.StatusCreated, http.StatusOK}, w.Code, w.Body.String())
	var receipt contract.Receipt
	s.decode(w, &receipt)
	return receipt
}

func (s *LedgerHandlerSuite) TestRegistrationRequiresAdmin() {
	p := testutil.Parties
	w := s.do(p.Stranger, http.MethodPost, "/ledger/employers", map[string]string{"address": p.Acme.String(), "name": "Acme"})

	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("not_admin", s.errorReason(w))
}

func (s *LedgerHandlerSuite) TestRepeatedEmployerRegistrationIsNoop() {
	s.seed()
	p := testutil.Parties

	w := s.do(p.Admin, http.MethodPost, "/ledger/employers", map[string]string{"address": p.Acme.String(), "name": "Acme"})

	s.Require().Equal(http.StatusOK, w.Code)
	var receipt contract.Receipt
	s.decode(w, &receipt)
	s.False(receipt.Applied)
}

func (s *LedgerHandlerSuite) TestRegistrationRejectsMalformedAddress() {
	w := s.do(testutil.Parties.Admin, http.MethodPost, "/ledger/employers", map[string]string{"address": "0x123", "name": "Acme"})

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *LedgerHandlerSuite) TestWriteRequiresJSONContentType() {
	w := s.send(testutil.Parties.Admin, http.MethodPost, "/ledger/employers", strings.NewReader("address=x"), "application/x-www-form-urlencoded")

	s.Equal(http.StatusUnsupportedMediaType, w.Code)
}

func (s *LedgerHandlerSuite) TestPartiesAsOf() {
	s.seed()
	p := testutil.Parties

	w := s.do(p.Applicant, http.MethodGet, "/ledger/employers", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var now PartiesResponse
	s.decode(w, &now)
	s.Equal(uint64(2), now.AsOf)
	s.Require().Len(now.Parties, 1)
	s.Equal(p.Acme, now.Parties[0].Address)

	w = s.do(p.Applicant, http.MethodGet, "/ledger/institutions?as_of=1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var before PartiesResponse
	s.decode(w, &before)
	s.Equal(uint64(1), before.AsOf)
	s.Empty(before.Parties)
}

func (s *LedgerHandlerSuite) TestAsOfValidation() {
	s.seed()

	s.Equal(http.StatusBadRequest, s.do(testutil.Parties.Applicant, http.MethodGet, "/ledger/employers?as_of=-1", nil).Code)
	s.Equal(http.StatusBadRequest, s.do(testutil.Parties.Applicant, http.MethodGet, "/ledger/employers?as_of=99", nil).Code)
}

func (s *LedgerHandlerSuite) TestMintIsIdempotentPerKey() {
	s.seed()

	first := s.mint("retry-1")
	again := s.mint("retry-1")
	other := s.mint("")

	s.True(first.Applied)
	s.False(again.Applied)
	s.Equal(first.TokenID, again.TokenID)
	s.NotEqual(first.TokenID, other.TokenID)
}

func (s *LedgerHandlerSuite) TestMintRejectsMissingFields() {
	w := s.do(testutil.Parties.Applicant, http.MethodPost, "/ledger/credentials", map[string]string{"applicant_name": "Ada"})

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *LedgerHandlerSuite) TestHandshake() {
	s.seed()
	p := testutil.Parties
	token := s.mint("")
	path := fmt.Sprintf("/ledger/credentials/%d", token.TokenID)

	w := s.do(p.Acme, http.MethodPost, path+"/employer-verification", nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(p.Acme, http.MethodPost, path+"/institution-request", map[string]string{"institution_name": "stateu"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(p.StateU, http.MethodGet, "/ledger/requests", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var requests RequestsResponse
	s.decode(w, &requests)
	s.Equal("StateU", requests.Institution)
	s.Require().Len(requests.Requests, 1)
	s.Equal(credential.StatusRequested, requests.Requests[0].Status)

	w = s.do(p.StateU, http.MethodPost, path+"/institution-verification", nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(p.Applicant, http.MethodGet, path, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var detail CredentialDetailResponse
	s.decode(w, &detail)
	s.Equal(credential.StatusApproved, detail.Credential.Status)
	s.True(detail.Credential.EmployerVerified)

	w = s.do(p.Acme, http.MethodGet, "/ledger/credentials/addressed", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var dashboard AddressedResponse
	s.decode(w, &dashboard)
	s.Equal(1, dashboard.EmployerVerified)
	s.Equal(1, dashboard.InstitutionVerified)

	w = s.do(p.Acme, http.MethodPost, path+"/institution-request", map[string]string{"institution_name": "StateU"})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("already_approved", s.errorReason(w))
}

func (s *LedgerHandlerSuite) TestHistoricalStatus() {
	s.seed()
	p := testutil.Parties
	token := s.mint("")
	path := fmt.Sprintf("/ledger/credentials/%d", token.TokenID)
	s.Require().Equal(http.StatusCreated, s.do(p.Acme, http.MethodPost, path+"/institution-request", map[string]string{"institution_name": "StateU"}).Code)

	w := s.do(p.Applicant, http.MethodGet, fmt.Sprintf("/ledger/credentials/mine?as_of=%d", token.Seq), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var mine CredentialsResponse
	s.decode(w, &mine)
	s.Require().Len(mine.Credentials, 1)
	s.Equal(credential.StatusNotRequested, mine.Credentials[0].Status)
}

func (s *LedgerHandlerSuite) TestUnknownCredential() {
	w := s.do(testutil.Parties.Applicant, http.MethodGet, "/ledger/credentials/42", nil)

	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("unknown_token", s.errorReason(w))
}

func (s *LedgerHandlerSuite) TestMalformedTokenID() {
	w := s.do(testutil.Parties.Acme, http.MethodPost, "/ledger/credentials/abc/employer-verification", nil)

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *LedgerHandlerSuite) TestDashboardsRequireRegisteredParty() {
	w := s.do(testutil.Parties.Stranger, http.MethodGet, "/ledger/credentials/addressed", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("not_authorized_employer", s.errorReason(w))

	w = s.do(testutil.Parties.Stranger, http.MethodGet, "/ledger/requests", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("not_authorized_institution", s.errorReason(w))
}

func (s *LedgerHandlerSuite) TestDocumentUploadAndResolve() {
	s.seed()
	doc := []byte("%PDF-1.7 resume")

	w := s.send(testutil.Parties.Applicant, http.MethodPost, "/ledger/documents", bytes.NewReader(doc), "application/pdf")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var uploaded DocumentResponse
	s.decode(w, &uploaded)
	s.Equal(blob.HashOf(doc).String(), uploaded.Hash)
	s.Equal("https://gateway.example/ipfs/"+uploaded.Hash, uploaded.URL)

	body := fmt.Sprintf(`{"applicant_name":"Ada","resume_hash":%q,"employer_name":"Acme"}`, uploaded.Hash)
	w = s.send(testutil.Parties.Applicant, http.MethodPost, "/ledger/credentials", strings.NewReader(body), "application/json")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var receipt contract.Receipt
	s.decode(w, &receipt)

	w = s.do(testutil.Parties.Applicant, http.MethodGet, fmt.Sprintf("/ledger/credentials/%d", receipt.TokenID), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var detail CredentialDetailResponse
	s.decode(w, &detail)
	s.Equal(uploaded.URL, detail.Credential.DocumentURL)
}

func (s *LedgerHandlerSuite) TestDocumentUploadLimit() {
	router := chi.NewRouter()
	router.Use(request.BodyLimit(request.Limits{Raw: 8}))
	New(s.program, s.documents, nil).Register(router)

	req := httptest.NewRequest(http.MethodPost, "/ledger/documents", strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = -1 // streamed upload: the limit trips while reading
	req = req.WithContext(requestcontext.WithPrincipal(req.Context(), requestcontext.AuthPrincipal{Address: testutil.Parties.Applicant}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	s.Equal(http.StatusRequestEntityTooLarge, w.Code)
	var res httputil.ErrorResponse
	s.decode(w, &res)
	s.Equal("payload_too_large", res.Error)
}

func (s *LedgerHandlerSuite) TestAdminOwnership() {
	w := s.do(testutil.Parties.Admin, http.MethodGet, "/ledger/admin", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var res AdminResponse
	s.decode(w, &res)
	s.True(res.IsAdmin)

	w = s.do(testutil.Parties.Stranger, http.MethodGet, "/ledger/admin", nil)
	s.decode(w, &res)
	s.False(res.IsAdmin)
	s.Equal(testutil.Parties.Admin, res.Admin)
}

func (s *LedgerHandlerSuite) TestMissingPrincipal() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ledger/credentials/mine", nil))

	s.Equal(http.StatusInternalServerError, w.Code)
}

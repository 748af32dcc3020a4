// Package handler serves the ledger surface: role registration by the
// administrator, the credential lifecycle, and as-of reads over the
// projection.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustid/internal/blob"
	"trustid/internal/credential"
	"trustid/internal/ledger/contract"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/platform/httputil"
	"trustid/pkg/platform/middleware/request"
	"trustid/pkg/requestcontext"
)

// IdempotencyKeyHeader carries the applicant's mint retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// Ledger is the ledger program as seen by the HTTP layer.
type Ledger interface {
	RegisterEmployer(ctx context.Context, caller, employer id.Address, name string) (contract.Receipt, error)
	RegisterInstitution(ctx context.Context, caller, institution id.Address, name string) (contract.Receipt, error)
	Mint(ctx context.Context, caller id.Address, in credential.MintInput) (contract.Receipt, error)
	VerifyByEmployer(ctx context.Context, caller id.Address, tokenID id.TokenID) (contract.Receipt, error)
	RequestVerificationByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID, institutionName, employerName string) (contract.Receipt, error)
	VerifyByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID) (contract.Receipt, error)
	Confirm(ctx context.Context, r contract.Receipt) error
	Snapshot(ctx context.Context, asOf uint64, fn func(s *contract.State, asOf uint64) error) error
	Admin() id.Address
}

// Documents pins credential documents and resolves them to URLs.
type Documents interface {
	Store(ctx context.Context, data []byte) (blob.ContentHash, error)
	Resolve(ctx context.Context, h blob.ContentHash) (string, error)
}

type Handler struct {
	ledger    Ledger
	documents Documents
	logger    *slog.Logger
}

func New(ledger Ledger, documents Documents, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: ledger, documents: documents, logger: logger}
}

// Register mounts the ledger routes. The caller must install the
// authentication middleware; every handler reads the session principal.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ledger/admin", h.handleAdmin)
	r.Get("/ledger/employers", h.handleEmployers)
	r.Get("/ledger/institutions", h.handleInstitutions)
	r.Get("/ledger/credentials/mine", h.handleMine)
	r.Get("/ledger/credentials/addressed", h.handleAddressed)
	r.Get("/ledger/credentials/{id}", h.handleCredential)
	r.Get("/ledger/requests", h.handleInstitutionRequests)

	// Documents are raw bytes of any media type.
	r.Post("/ledger/documents", h.handleUploadDocument)

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Post("/ledger/employers", h.handleRegisterEmployer)
		r.Post("/ledger/institutions", h.handleRegisterInstitution)
		r.Post("/ledger/credentials", h.handleMint)
		r.Post("/ledger/credentials/{id}/employer-verification", h.handleEmployerVerification)
		r.Post("/ledger/credentials/{id}/institution-request", h.handleInstitutionRequest)
		r.Post("/ledger/credentials/{id}/institution-verification", h.handleInstitutionVerification)
	})
}

// caller returns the session principal's address, writing a 500 when the
// authentication middleware did not run.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	p, ok := requestcontext.Principal(r.Context())
	if !ok || p.Address.IsZero() {
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return p.Address, true
}

// submit runs a ledger write as the caller and answers only once the
// receipt is observed in the log.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, op string, write func(ctx context.Context, caller id.Address) (contract.Receipt, error)) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	receipt, err := write(ctx, caller)
	if err == nil {
		err = h.ledger.Confirm(ctx, receipt)
	}
	if err != nil {
		h.log(ctx, op, err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if receipt.Applied {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, receipt)
}

// read folds the projection at the requested as_of and writes what fn
// returns.
func (h *Handler) read(w http.ResponseWriter, r *http.Request, op string, fn func(s *contract.State, asOf uint64) (any, error)) {
	if out, ok := h.snapshot(w, r, op, fn); ok {
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

// snapshot hands fn the state at as_of together with the prefix length
// actually served. fn runs under the projection lock and must not block.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request, op string, fn func(s *contract.State, asOf uint64) (any, error)) (any, bool) {
	ctx := r.Context()
	asOf, err := httputil.QueryUint(r, "as_of")
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}

	var out any
	err = h.ledger.Snapshot(ctx, asOf, func(s *contract.State, served uint64) error {
		var err error
		out, err = fn(s, served)
		return err
	})
	if err != nil {
		h.log(ctx, op, err)
		httputil.WriteError(w, err)
		return nil, false
	}
	return out, true
}

// log reports client errors at warn and everything else at error.
func (h *Handler) log(ctx context.Context, op string, err error) {
	level := slog.LevelError
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnauthorized, dErrors.CodeForbidden, dErrors.CodeNotFound, dErrors.CodeInvalidState,
		dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeBadRequest, dErrors.CodeConflict:
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, "ledger request failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"reason", dErrors.ReasonOf(err),
		"error", err,
	)
}

func tokenIDParam(r *http.Request) (id.TokenID, error) {
	return id.ParseTokenID(chi.URLParam(r, "id"))
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	admin := h.ledger.Admin()
	httputil.WriteJSON(w, http.StatusOK, AdminResponse{Admin: admin, IsAdmin: caller == admin})
}

func (h *Handler) handleRegisterEmployer(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[RegisterPartyRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.submit(w, r, "register_employer", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.RegisterEmployer(ctx, caller, req.address, req.Name)
	})
}

func (h *Handler) handleRegisterInstitution(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[RegisterPartyRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.submit(w, r, "register_institution", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.RegisterInstitution(ctx, caller, req.address, req.Name)
	})
}

func (h *Handler) handleEmployers(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "list_employers", func(s *contract.State, asOf uint64) (any, error) {
		return PartiesResponse{AsOf: asOf, Parties: s.Registry.Employers()}, nil
	})
}

func (h *Handler) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "list_institutions", func(s *contract.State, asOf uint64) (any, error) {
		return PartiesResponse{AsOf: asOf, Parties: s.Registry.Institutions()}, nil
	})
}

func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.caller(w, r); !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteTooLarge(w, "document exceeds the upload limit")
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read document"))
		return
	}

	hash, err := h.documents.Store(ctx, data)
	if err != nil {
		h.log(ctx, "store_document", err)
		httputil.WriteError(w, err)
		return
	}
	url, err := h.documents.Resolve(ctx, hash)
	if err != nil {
		h.log(ctx, "resolve_document", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, DocumentResponse{Hash: hash.String(), URL: url})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger)
	if !ok {
		return
	}
	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "idempotency key is too long"))
		return
	}
	h.submit(w, r, "mint", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.Mint(ctx, caller, credential.MintInput{
			Applicant:      caller,
			ApplicantName:  req.ApplicantName,
			ResumeHash:     req.ResumeHash,
			EmployerName:   req.EmployerName,
			IdempotencyKey: key,
		})
	})
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.read(w, r, "list_mine", func(s *contract.State, asOf uint64) (any, error) {
		return CredentialsResponse{AsOf: asOf, Credentials: toCredentials(s.Credentials.ByApplicant(caller))}, nil
	})
}

func (h *Handler) handleAddressed(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.read(w, r, "list_addressed", func(s *contract.State, asOf uint64) (any, error) {
		party, ok := s.Registry.Employer(caller)
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedEmployer, "caller is not a registered employer")
		}
		tokens := s.Credentials.ByEmployer(party)
		res := AddressedResponse{AsOf: asOf, Employer: party.Name, Credentials: toCredentials(tokens)}
		for _, t := range tokens {
			if t.EmployerVerified {
				res.EmployerVerified++
			}
			if t.InstitutionVerified {
				res.InstitutionVerified++
			}
		}
		return res, nil
	})
}

func (h *Handler) handleInstitutionRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.read(w, r, "list_requests", func(s *contract.State, asOf uint64) (any, error) {
		party, ok := s.Registry.Institution(caller)
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeUnauthorized, dErrors.ReasonNotAuthorizedInstitution, "caller is not a registered institution")
		}
		return RequestsResponse{AsOf: asOf, Institution: party.Name, Requests: toCredentials(s.Credentials.RequestsFor(party))}, nil
	})
}

func (h *Handler) handleCredential(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	tokenID, err := tokenIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out, ok := h.snapshot(w, r, "get_credential", func(s *contract.State, asOf uint64) (any, error) {
		t, ok := s.Credentials.Token(tokenID)
		if !ok {
			return nil, dErrors.WithReason(dErrors.CodeNotFound, dErrors.ReasonUnknownToken, "token not found")
		}
		return CredentialDetailResponse{AsOf: asOf, Credential: toCredential(t)}, nil
	})
	if !ok {
		return
	}
	res := out.(CredentialDetailResponse)
	res.Credential.DocumentURL = h.documentURL(r.Context(), res.Credential.ResumeHash)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// documentURL resolves a content hash pinned through this service. Hashes
// from elsewhere are returned without a URL.
func (h *Handler) documentURL(ctx context.Context, resumeHash string) string {
	if h.documents == nil {
		return ""
	}
	hash, err := blob.ParseHash(resumeHash)
	if err != nil {
		return ""
	}
	url, err := h.documents.Resolve(ctx, hash)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.log(ctx, "resolve_document", err)
		}
		return ""
	}
	return url
}

func (h *Handler) handleEmployerVerification(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.submit(w, r, "verify_by_employer", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.VerifyByEmployer(ctx, caller, tokenID)
	})
}

func (h *Handler) handleInstitutionRequest(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[InstitutionRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.submit(w, r, "request_institution_verification", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.RequestVerificationByInstitution(ctx, caller, tokenID, req.InstitutionName, req.EmployerName)
	})
}

func (h *Handler) handleInstitutionVerification(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.submit(w, r, "verify_by_institution", func(ctx context.Context, caller id.Address) (contract.Receipt, error) {
		return h.ledger.VerifyByInstitution(ctx, caller, tokenID)
	})
}

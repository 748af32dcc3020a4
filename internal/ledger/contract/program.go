package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustid/internal/credential"
	"trustid/internal/ledger"
	"trustid/internal/projection"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
)

const (
	OpRegisterEmployer    = "register_employer"
	OpRegisterInstitution = "register_institution"
	OpMint                = "mint"
	OpVerifyByEmployer    = "verify_by_employer"
	OpRequestInstitution  = "request_institution_verification"
	OpVerifyByInstitution = "verify_by_institution"
)

const (
	defaultSubmitAttempts = 3
	defaultSubmitBackoff  = 50 * time.Millisecond
	viewName              = "ledger"
)

// Receipt describes the outcome of a submission. Applied is false when the
// transition was already in effect and nothing was appended; Seq is then the
// tip the decision was made against.
type Receipt struct {
	TxID    id.TxID        `json:"tx_id"`
	Seq     uint64         `json:"seq"`
	Applied bool           `json:"applied"`
	TokenID id.TokenID     `json:"token_id,omitempty"`
	Events  []ledger.Event `json:"-"`
}

// Program is the ledger program. All writes go through the log's single
// serialization point; reads go through the memoized projection.
type Program struct {
	log      ledger.Log
	view     *projection.View[*State]
	admin    id.Address
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	attempts int
	backoff  time.Duration
	viewOpts []projection.Option
}

// Option configures the Program.
type Option func(*Program)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Program) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Program) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Program) {
		p.tracer = t
	}
}

// WithRetry sets how often a retry-safe submission is attempted on a
// transport failure, and the base backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Program) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if backoff >= 0 {
			p.backoff = backoff
		}
	}
}

// WithProjection passes options to the program's memoized view.
func WithProjection(opts ...projection.Option) Option {
	return func(p *Program) {
		p.viewOpts = append(p.viewOpts, opts...)
	}
}

// New creates the ledger program over log, governed by admin.
func New(log ledger.Log, admin id.Address, opts ...Option) *Program {
	p := &Program{
		log:      log,
		admin:    admin,
		logger:   slog.Default(),
		attempts: defaultSubmitAttempts,
		backoff:  defaultSubmitBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("trustid/ledger")
	}
	viewOpts := append([]projection.Option{projection.WithLogger(p.logger)}, p.viewOpts...)
	p.view = projection.NewView(viewName, log, NewState(admin), Fold, viewOpts...)
	return p
}

// Admin returns the registry admin address.
func (p *Program) Admin() id.Address { return p.admin }

// Log exposes the underlying ledger for replay and reconciliation.
func (p *Program) Log() ledger.Reader { return p.log }

// decision runs against the state at the serialization point.
type decision func(s *State) ([]ledger.Draft, id.TokenID, error)

// RegisterEmployer registers an employer. Only the admin may call it;
// re-registration is a no-op.
func (p *Program) RegisterEmployer(ctx context.Context, caller, employer id.Address, name string) (Receipt, error) {
	return p.submit(ctx, OpRegisterEmployer, caller, true, func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleAdmin)
		if err != nil {
			return nil, 0, err
		}
		drafts, err := s.Registry.RegisterEmployer(actor, employer, name)
		return drafts, 0, err
	})
}

// RegisterInstitution registers an institution under name.
func (p *Program) RegisterInstitution(ctx context.Context, caller, institution id.Address, name string) (Receipt, error) {
	return p.submit(ctx, OpRegisterInstitution, caller, true, func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleAdmin)
		if err != nil {
			return nil, 0, err
		}
		drafts, err := s.Registry.RegisterInstitution(actor, institution, name)
		return drafts, 0, err
	})
}

// Mint notarizes a credential for the caller. It is retried on transport
// failure only when the input carries an idempotency key.
func (p *Program) Mint(ctx context.Context, caller id.Address, in credential.MintInput) (Receipt, error) {
	return p.submit(ctx, OpMint, caller, in.IdempotencyKey != "", func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleApplicant)
		if err != nil {
			return nil, 0, err
		}
		return s.Credentials.Mint(actor, s.Registry, in)
	})
}

// VerifyByEmployer records the employer attestation on a token.
func (p *Program) VerifyByEmployer(ctx context.Context, caller id.Address, tokenID id.TokenID) (Receipt, error) {
	return p.submit(ctx, OpVerifyByEmployer, caller, true, func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleEmployer)
		if err != nil {
			return nil, 0, err
		}
		drafts, err := s.Credentials.VerifyByEmployer(actor, tokenID)
		return drafts, tokenID, err
	})
}

// RequestVerificationByInstitution opens (or replaces) the token's
// institution verification request.
func (p *Program) RequestVerificationByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID, institutionName, employerName string) (Receipt, error) {
	return p.submit(ctx, OpRequestInstitution, caller, true, func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleEmployer)
		if err != nil {
			return nil, 0, err
		}
		drafts, err := s.Credentials.RequestVerificationByInstitution(actor, s.Registry, tokenID, institutionName, employerName)
		return drafts, tokenID, err
	})
}

// VerifyByInstitution approves the token's current request.
func (p *Program) VerifyByInstitution(ctx context.Context, caller id.Address, tokenID id.TokenID) (Receipt, error) {
	return p.submit(ctx, OpVerifyByInstitution, caller, true, func(s *State) ([]ledger.Draft, id.TokenID, error) {
		actor, err := s.Registry.Resolve(caller, id.RoleInstitution)
		if err != nil {
			return nil, 0, err
		}
		drafts, err := s.Credentials.VerifyByInstitution(actor, tokenID)
		return drafts, tokenID, err
	})
}

func (p *Program) submit(ctx context.Context, op string, caller id.Address, retrySafe bool, decide decision) (Receipt, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ledger.submit", trace.WithAttributes(
		attribute.String("ledger.operation", op),
		attribute.String("ledger.caller", caller.String()),
	))
	defer span.End()

	attempts := 1
	if retrySafe {
		attempts = p.attempts
	}

	var (
		receipt Receipt
		err     error
	)
	for attempt := 1; ; attempt++ {
		receipt, err = p.submitOnce(ctx, caller, decide)
		if err == nil || !dErrors.HasCode(err, dErrors.CodeUnavailable) || attempt >= attempts {
			break
		}
		p.metrics.retry(op)
		p.logger.WarnContext(ctx, "ledger_submit_retry", "operation", op, "attempt", attempt, "error", err)
		if werr := sleep(ctx, p.backoff*time.Duration(attempt)); werr != nil {
			err = dErrors.Wrap(werr, dErrors.CodeUnavailable, "ledger submission abandoned")
			break
		}
	}

	outcome := outcomeOf(receipt, err)
	p.metrics.observe(op, outcome, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("ledger.outcome", outcome), attribute.Int64("ledger.seq", int64(receipt.Seq))) // #nosec G115
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return Receipt{}, err
	}
	if receipt.Applied {
		p.logger.InfoContext(ctx, "ledger_transition_committed",
			"operation", op,
			"seq", receipt.Seq,
			"tx_id", receipt.TxID.String(),
			"caller", caller.String(),
		)
	}
	return receipt, nil
}

func (p *Program) submitOnce(ctx context.Context, caller id.Address, decide decision) (Receipt, error) {
	var (
		tokenID   id.TokenID
		decidedAt uint64
	)
	events, err := p.log.Submit(ctx, caller, func(ctx context.Context, tip uint64) ([]ledger.Draft, error) {
		var drafts []ledger.Draft
		err := p.view.Read(ctx, tip, func(s *State, at uint64) error {
			var derr error
			drafts, tokenID, derr = decide(s)
			decidedAt = at
			return derr
		})
		return drafts, err
	})
	if err != nil {
		return Receipt{}, err
	}
	if len(events) == 0 {
		return Receipt{Seq: decidedAt, Applied: false, TokenID: tokenID}, nil
	}
	last := events[len(events)-1]
	return Receipt{TxID: last.TxID, Seq: last.Seq, Applied: true, TokenID: tokenID, Events: events}, nil
}

// Confirm succeeds once every event of the receipt is observed in the log.
// A submission whose receipt is not confirmed must be treated as pending.
func (p *Program) Confirm(ctx context.Context, r Receipt) error {
	if !r.Applied || len(r.Events) == 0 {
		return nil
	}
	first := r.Events[0].Seq
	observed, err := p.log.Read(ctx, first-1, r.Seq)
	if err != nil {
		return err
	}
	if len(observed) < len(r.Events) {
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("transition %s is not yet observed in the ledger", r.TxID))
	}
	for i, e := range r.Events {
		if observed[i].Seq != e.Seq || observed[i].TxID != e.TxID {
			return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("ledger seq %d does not belong to transition %s", e.Seq, r.TxID))
		}
	}
	return nil
}

func outcomeOf(r Receipt, err error) string {
	switch {
	case err == nil && r.Applied:
		return "applied"
	case err == nil:
		return "noop"
	case dErrors.HasCode(err, dErrors.CodeUnavailable):
		return "unavailable"
	case dErrors.HasCode(err, dErrors.CodeInternal):
		return "error"
	default:
		return "rejected"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package credential

import (
	"encoding/json"
	"strings"

	"trustid/internal/ledger"
	"trustid/internal/registry"
	id "trustid/pkg/domain"
)

type idempotencyKey struct {
	applicant id.Address
	key       string
}

// State is the folded set of tokens. Verification flags only ever move
// from false to true.
type State struct {
	tokens      map[id.TokenID]*Token
	order       []id.TokenID
	byApplicant map[id.Address][]id.TokenID
	idempotency map[idempotencyKey]id.TokenID
	lastID      id.TokenID
}

func New() *State {
	return &State{
		tokens:      make(map[id.TokenID]*Token),
		byApplicant: make(map[id.Address][]id.TokenID),
		idempotency: make(map[idempotencyKey]id.TokenID),
	}
}

// Apply folds one event. Events for unknown tokens and replays of
// already-applied transitions are ignored.
func (s *State) Apply(e ledger.Event) error {
	switch e.Kind {
	case ledger.KindCredentialMinted:
		p, err := ledger.Decode[ledger.CredentialMinted](e)
		if err != nil {
			return err
		}
		s.add(&Token{
			ID:             p.TokenID,
			Applicant:      p.Applicant,
			ApplicantName:  p.ApplicantName,
			ResumeHash:     p.ResumeHash,
			EmployerName:   p.EmployerName,
			EmployerID:     p.EmployerID,
			MintedAt:       e.Timestamp,
			Seq:            e.Seq,
			IdempotencyKey: p.IdempotencyKey,
		})
	case ledger.KindEmployerVerified:
		p, err := ledger.Decode[ledger.EmployerVerified](e)
		if err != nil {
			return err
		}
		if t, ok := s.tokens[p.TokenID]; ok {
			t.EmployerVerified = true
		}
	case ledger.KindInstitutionVerificationRequested:
		p, err := ledger.Decode[ledger.InstitutionVerificationRequested](e)
		if err != nil {
			return err
		}
		if t, ok := s.tokens[p.TokenID]; ok && !t.InstitutionVerified {
			t.Request = &Request{
				InstitutionName: p.InstitutionName,
				InstitutionID:   p.InstitutionID,
				Employer:        p.Employer,
				EmployerName:    p.EmployerName,
				RequestedAt:     e.Timestamp,
				Seq:             e.Seq,
			}
		}
	case ledger.KindInstitutionVerified:
		p, err := ledger.Decode[ledger.InstitutionVerified](e)
		if err != nil {
			return err
		}
		if t, ok := s.tokens[p.TokenID]; ok {
			t.InstitutionVerified = true
		}
	}
	return nil
}

func (s *State) add(t *Token) {
	if _, ok := s.tokens[t.ID]; ok {
		return
	}
	s.tokens[t.ID] = t
	s.order = append(s.order, t.ID)
	s.byApplicant[t.Applicant] = append(s.byApplicant[t.Applicant], t.ID)
	if t.IdempotencyKey != "" {
		k := idempotencyKey{applicant: t.Applicant, key: t.IdempotencyKey}
		if _, ok := s.idempotency[k]; !ok {
			s.idempotency[k] = t.ID
		}
	}
	if t.ID > s.lastID {
		s.lastID = t.ID
	}
}

// NextID is the id the next mint will receive.
func (s *State) NextID() id.TokenID { return s.lastID + 1 }

func (s *State) Count() int { return len(s.order) }

func (s *State) Token(tokenID id.TokenID) (Token, bool) {
	t, ok := s.tokens[tokenID]
	if !ok {
		return Token{}, false
	}
	return t.clone(), true
}

// ByApplicant returns the applicant's tokens in mint order.
func (s *State) ByApplicant(applicant id.Address) []Token {
	ids := s.byApplicant[applicant]
	out := make([]Token, 0, len(ids))
	for _, tokenID := range ids {
		out = append(out, s.tokens[tokenID].clone())
	}
	return out
}

// Latest returns the applicant's most recently minted token.
func (s *State) Latest(applicant id.Address) (Token, bool) {
	ids := s.byApplicant[applicant]
	if len(ids) == 0 {
		return Token{}, false
	}
	return s.tokens[ids[len(ids)-1]].clone(), true
}

// ByEmployer returns tokens addressed to the employer: bound by party id,
// or unbound and naming the employer exactly.
func (s *State) ByEmployer(employer registry.Party) []Token {
	return s.filter(func(t *Token) bool { return addressedTo(t, employer) })
}

// RequestsFor returns tokens whose current request names the institution.
func (s *State) RequestsFor(institution registry.Party) []Token {
	return s.filter(func(t *Token) bool { return t.Request != nil && requestedOf(t.Request, institution) })
}

func (s *State) filter(keep func(*Token) bool) []Token {
	var out []Token
	for _, tokenID := range s.order {
		if t := s.tokens[tokenID]; keep(t) {
			out = append(out, t.clone())
		}
	}
	return out
}

func addressedTo(t *Token, employer registry.Party) bool {
	if !t.EmployerID.IsNil() {
		return t.EmployerID == employer.ID
	}
	return employer.Name != "" && t.EmployerName == employer.Name
}

func requestedOf(r *Request, institution registry.Party) bool {
	if !r.InstitutionID.IsNil() {
		return r.InstitutionID == institution.ID
	}
	return strings.EqualFold(strings.TrimSpace(r.InstitutionName), strings.TrimSpace(institution.Name))
}

func (s *State) MarshalJSON() ([]byte, error) {
	tokens := make([]Token, 0, len(s.order))
	for _, tokenID := range s.order {
		tokens = append(tokens, s.tokens[tokenID].clone())
	}
	return json.Marshal(struct {
		Tokens []Token `json:"tokens"`
	}{Tokens: tokens})
}

func (s *State) UnmarshalJSON(b []byte) error {
	var snap struct {
		Tokens []Token `json:"tokens"`
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	*s = *New()
	for i := range snap.Tokens {
		t := snap.Tokens[i].clone()
		s.add(&t)
	}
	return nil
}

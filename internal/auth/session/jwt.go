// Package session issues and validates the HS256 session tokens that stand
// in for wallet signatures: a token binds a username to its role claim and
// ledger address.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/requestcontext"
)

// Claims carried by a session token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Address  string `json:"address"`
	jwt.RegisteredClaims
}

// JWTService handles session token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
}

func NewJWTService(signingKey, issuer string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
	}
}

// Issue signs a session token for the principal and returns its expiry.
func (s *JWTService) Issue(ctx context.Context, p requestcontext.AuthPrincipal) (string, time.Time, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	now := requestcontext.Now(ctx)
	expiresAt := now.Add(s.tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: p.Username,
		Role:     p.Role.String(),
		Address:  p.Address.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        hex.EncodeToString(b),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses a session token and returns the principal it carries.
func (s *JWTService) Validate(tokenString string) (requestcontext.AuthPrincipal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestcontext.AuthPrincipal{}, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return requestcontext.AuthPrincipal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return requestcontext.AuthPrincipal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return requestcontext.AuthPrincipal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token role")
	}
	addr, err := id.ParseAddress(claims.Address)
	if err != nil {
		return requestcontext.AuthPrincipal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token address")
	}
	return requestcontext.AuthPrincipal{Username: claims.Username, Role: role, Address: addr}, nil
}

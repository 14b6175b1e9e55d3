package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "chatserver"
	defaultAudience = "chatserver-api"
	defaultTokenTTL = 12 * time.Hour
	defaultLeeway   = 30 * time.Second
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenConfig configures access-token issuance and verification.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// TokenManager issues and verifies HS256 access tokens carrying the member
// identity (subject = member ID, email claim for the transport layer).
type TokenManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
}

type memberClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token manager requires a secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &TokenManager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		leeway:   leeway,
	}, nil
}

// TokenTTL returns the configured token lifetime. Used as the retention
// bound for revocation entries.
func (m *TokenManager) TokenTTL() time.Duration {
	return m.ttl
}

// Issue signs an access token for the member.
func (m *TokenManager) Issue(memberID, email string) (string, error) {
	now := time.Now().UTC()
	claims := memberClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify validates the token and returns the member ID and email.
func (m *TokenManager) Verify(token string) (string, string, error) {
	claims := memberClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithLeeway(m.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", "", ErrInvalidToken
	}
	return subject, claims.Email, nil
}

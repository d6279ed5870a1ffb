package jwt

import (
	"errors"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeService = "service"

	ScopeJobsRun  = "jobs:run"
	ScopeJobsRead = "jobs:read"

	issuer = "rental-sync"
)

var (
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("token invalid")
	ErrNotConfigured = errors.New("service token secret is not configured")
)

// Claims identify a machine caller such as a scheduler or the scraper.
type Claims struct {
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"`

	jwtlib.RegisteredClaims
}

func (c Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type Service interface {
	GenerateServiceToken(subject string, scopes []string) (string, error)
	ValidateToken(tokenString string) (Claims, error)
}

type HMACService struct {
	secret    []byte
	expiresIn time.Duration

	now func() time.Time
}

func NewHMACService(secret string, expiresIn time.Duration) *HMACService {
	return &HMACService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		now:       time.Now,
	}
}

func DefaultScopes() []string {
	return []string{ScopeJobsRun, ScopeJobsRead}
}

func (s *HMACService) GenerateServiceToken(subject string, scopes []string) (string, error) {
	if len(s.secret) == 0 || s.expiresIn <= 0 {
		return "", ErrNotConfigured
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrTokenInvalid
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}

	now := s.now().UTC()
	c := Claims{
		Scopes:    scopes,
		TokenType: TokenTypeService,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.expiresIn)),
		},
	}

	t := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c)
	return t.SignedString(s.secret)
}

func (s *HMACService) ValidateToken(tokenString string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrNotConfigured
	}

	p := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(s.now),
		jwtlib.WithExpirationRequired(),
	)

	var c Claims
	tok, err := p.ParseWithClaims(tokenString, &c, func(token *jwtlib.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if tok == nil || !tok.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if c.TokenType != TokenTypeService || c.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}

	return c, nil
}

var _ Service = (*HMACService)(nil)

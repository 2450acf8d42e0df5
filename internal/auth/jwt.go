package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
)

// ErrInvalidToken covers every verification failure; callers never learn which check failed
var ErrInvalidToken = errors.New("invalid token")

// PayloadType tells the three token purposes apart
type PayloadType string

const (
	PayloadAccess       PayloadType = "ACCESS"
	PayloadRefresh      PayloadType = "REFRESH"
	PayloadVerification PayloadType = "VERIFICATION"
)

// Claims represents the JWT token claims for all token purposes
type Claims struct {
	PayloadType PayloadType    `json:"payloadType"`
	TokenID     string         `json:"tokenId,omitempty"`
	Username    string         `json:"username,omitempty"`
	Email       string         `json:"email,omitempty"`
	UserType    model.UserType `json:"userType,omitempty"`
	IsVerified  *bool          `json:"isVerified,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// SessionID parses the tokenId claim of a refresh token
func (c *Claims) SessionID() (uuid.UUID, error) {
	return uuid.Parse(c.TokenID)
}

// JWTService handles JWT token operations
type JWTService struct {
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(issuer, audience string, now func() time.Time) *JWTService {
	if now == nil {
		now = time.Now
	}
	return &JWTService{issuer: issuer, audience: audience, now: now}
}

// Sign creates an HS256 token for subject. Registered claims in claims are overwritten.
func (s *JWTService) Sign(subject string, expiresIn time.Duration, secret []byte, claims Claims) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify parses token and checks signature, issuer, audience, expiry and purpose
func (s *JWTService) Verify(tokenString string, secret []byte, purpose PayloadType) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s.parse(parser, tokenString, secret, purpose)
}

// DecodeExpired checks signature and purpose but not time based claims
func (s *JWTService) DecodeExpired(tokenString string, secret []byte, purpose PayloadType) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims, err := s.parse(parser, tokenString, secret, purpose)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != s.issuer || !slices.Contains(claims.Audience, s.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(parser *jwt.Parser, tokenString string, secret []byte, purpose PayloadType) (*Claims, error) {
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.PayloadType != purpose {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

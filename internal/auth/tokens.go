package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
)

// TokenConfig holds secrets and lifetimes for the three token purposes
type TokenConfig struct {
	AuthSecret         string
	VerificationSecret string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	VerificationTTL    time.Duration
}

// TokenIssuer mints and checks access, refresh and verification tokens
type TokenIssuer struct {
	jwt                *JWTService
	authSecret         []byte
	verificationSecret []byte
	accessTTL          time.Duration
	refreshTTL         time.Duration
	verificationTTL    time.Duration
}

func NewTokenIssuer(jwtService *JWTService, cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{
		jwt:                jwtService,
		authSecret:         []byte(cfg.AuthSecret),
		verificationSecret: []byte(cfg.VerificationSecret),
		accessTTL:          cfg.AccessTTL,
		refreshTTL:         cfg.RefreshTTL,
		verificationTTL:    cfg.VerificationTTL,
	}
}

// IssuePair mints an access token with the profile claims and a refresh token bound to sessionID
func (t *TokenIssuer) IssuePair(user model.User, sessionID uuid.UUID) (access, refresh string, err error) {
	verified := user.IsVerified
	access, err = t.jwt.Sign(user.ID.String(), t.accessTTL, t.authSecret, Claims{
		PayloadType: PayloadAccess,
		Username:    user.Username,
		Email:       user.Email,
		UserType:    user.UserType,
		IsVerified:  &verified,
	})
	if err != nil {
		return "", "", err
	}
	refresh, err = t.jwt.Sign(user.ID.String(), t.refreshTTL, t.authSecret, Claims{
		PayloadType: PayloadRefresh,
		TokenID:     sessionID.String(),
	})
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (t *TokenIssuer) IssueVerification(user model.User) (string, error) {
	return t.jwt.Sign(user.ID.String(), t.verificationTTL, t.verificationSecret, Claims{
		PayloadType: PayloadVerification,
	})
}

func (t *TokenIssuer) VerifyAccess(token string) (*Claims, error) {
	return t.jwt.Verify(token, t.authSecret, PayloadAccess)
}

func (t *TokenIssuer) VerifyRefresh(token string) (*Claims, error) {
	return t.jwt.Verify(token, t.authSecret, PayloadRefresh)
}

func (t *TokenIssuer) VerifyVerification(token string) (*Claims, error) {
	return t.jwt.Verify(token, t.verificationSecret, PayloadVerification)
}

// DecodeRefresh accepts expired refresh tokens; logout uses it so stale sessions can still be dropped
func (t *TokenIssuer) DecodeRefresh(token string) (*Claims, error) {
	return t.jwt.DecodeExpired(token, t.authSecret, PayloadRefresh)
}

// AccessTTL is exposed for cookie lifetimes
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL is exposed for cookie lifetimes
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

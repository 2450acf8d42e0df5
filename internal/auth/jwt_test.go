package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestialseal/server/internal/model"
)

func TestJWTService_SignVerify(t *testing.T) {
	clock := newFakeClock()
	svc := NewJWTService(testIssuer, testAudience, clock.Now)
	sub := uuid.New()

	tok, err := svc.Sign(sub.String(), time.Minute, []byte(testAuthSecret), Claims{
		PayloadType: PayloadAccess,
		Username:    "alice",
		UserType:    model.UserTypeUser,
	})
	require.NoError(t, err)

	claims, err := svc.Verify(tok, []byte(testAuthSecret), PayloadAccess)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, sub, id)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTService_StrictExpiry(t *testing.T) {
	clock := newFakeClock()
	svc := NewJWTService(testIssuer, testAudience, clock.Now)

	tok, err := svc.Sign(uuid.NewString(), time.Minute, []byte(testAuthSecret), Claims{PayloadType: PayloadAccess})
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = svc.Verify(tok, []byte(testAuthSecret), PayloadAccess)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = svc.Verify(tok, []byte(testAuthSecret), PayloadAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_FailsClosed(t *testing.T) {
	clock := newFakeClock()
	svc := NewJWTService(testIssuer, testAudience, clock.Now)
	secret := []byte(testAuthSecret)

	good, err := svc.Sign(uuid.NewString(), time.Minute, secret, Claims{PayloadType: PayloadRefresh, TokenID: uuid.NewString()})
	require.NoError(t, err)

	otherIssuer, err := NewJWTService("https://evil.example", testAudience, clock.Now).
		Sign(uuid.NewString(), time.Minute, secret, Claims{PayloadType: PayloadRefresh})
	require.NoError(t, err)

	otherAudience, err := NewJWTService(testIssuer, "someone-else", clock.Now).
		Sign(uuid.NewString(), time.Minute, secret, Claims{PayloadType: PayloadRefresh})
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		PayloadType: PayloadRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	})
	hs512Token, err := hs512.SignedString(secret)
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		PayloadType: PayloadRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  uuid.NewString(),
			Issuer:   testIssuer,
			Audience: jwt.ClaimStrings{testAudience},
		},
	})
	noExpiryToken, err := noExpiry.SignedString(secret)
	require.NoError(t, err)

	cases := map[string]struct {
		token   string
		secret  []byte
		purpose PayloadType
	}{
		"wrong secret":    {good, []byte(testVerifySecret), PayloadRefresh},
		"wrong purpose":   {good, secret, PayloadAccess},
		"garbage":         {"not.a.jwt", secret, PayloadRefresh},
		"tampered":        {good + "x", secret, PayloadRefresh},
		"wrong issuer":    {otherIssuer, secret, PayloadRefresh},
		"wrong audience":  {otherAudience, secret, PayloadRefresh},
		"other algorithm": {hs512Token, secret, PayloadRefresh},
		"missing expiry":  {noExpiryToken, secret, PayloadRefresh},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(tc.token, tc.secret, tc.purpose)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTService_DecodeExpired(t *testing.T) {
	clock := newFakeClock()
	svc := NewJWTService(testIssuer, testAudience, clock.Now)
	sessionID := uuid.New()

	tok, err := svc.Sign(uuid.NewString(), time.Minute, []byte(testAuthSecret), Claims{
		PayloadType: PayloadRefresh,
		TokenID:     sessionID.String(),
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.Verify(tok, []byte(testAuthSecret), PayloadRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	claims, err := svc.DecodeExpired(tok, []byte(testAuthSecret), PayloadRefresh)
	require.NoError(t, err)
	got, err := claims.SessionID()
	require.NoError(t, err)
	assert.Equal(t, sessionID, got)

	_, err = svc.DecodeExpired(tok, []byte(testVerifySecret), PayloadRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.DecodeExpired(tok, []byte(testAuthSecret), PayloadVerification)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_DecodeExpiredChecksIssuerAndAudience(t *testing.T) {
	clock := newFakeClock()
	svc := NewJWTService(testIssuer, testAudience, clock.Now)
	claims := Claims{PayloadType: PayloadRefresh, TokenID: uuid.NewString()}

	otherAudience, err := NewJWTService(testIssuer, "another-deployment", clock.Now).
		Sign(uuid.NewString(), time.Minute, []byte(testAuthSecret), claims)
	require.NoError(t, err)
	otherIssuer, err := NewJWTService("https://evil.example", testAudience, clock.Now).
		Sign(uuid.NewString(), time.Minute, []byte(testAuthSecret), claims)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.DecodeExpired(otherAudience, []byte(testAuthSecret), PayloadRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.DecodeExpired(otherIssuer, []byte(testAuthSecret), PayloadRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_TokensDifferWithinSameSecond(t *testing.T) {
	svc := NewJWTService(testIssuer, testAudience, newFakeClock().Now)
	sub := uuid.NewString()
	a, err := svc.Sign(sub, time.Minute, []byte(testAuthSecret), Claims{PayloadType: PayloadRefresh})
	require.NoError(t, err)
	b, err := svc.Sign(sub, time.Minute, []byte(testAuthSecret), Claims{PayloadType: PayloadRefresh})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenIssuer_PurposeIsolation(t *testing.T) {
	e := newTestEnv(t)
	user := model.User{ID: uuid.New(), Username: "alice", Email: "alice@x.com", UserType: model.UserTypeUser}

	access, refresh, err := e.tokens.IssuePair(user, uuid.New())
	require.NoError(t, err)
	verification, err := e.tokens.IssueVerification(user)
	require.NoError(t, err)

	_, err = e.tokens.VerifyAccess(access)
	require.NoError(t, err)
	_, err = e.tokens.VerifyRefresh(refresh)
	require.NoError(t, err)
	_, err = e.tokens.VerifyVerification(verification)
	require.NoError(t, err)

	_, err = e.tokens.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.tokens.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.tokens.VerifyAccess(verification)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.tokens.VerifyRefresh(verification)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.tokens.VerifyVerification(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.tokens.VerifyVerification(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_AccessClaims(t *testing.T) {
	e := newTestEnv(t)
	user := model.User{ID: uuid.New(), Username: "alice", Email: "alice@x.com", UserType: model.UserTypeAdmin}

	access, _, err := e.tokens.IssuePair(user, uuid.New())
	require.NoError(t, err)
	claims, err := e.tokens.VerifyAccess(access)
	require.NoError(t, err)

	assert.Equal(t, "alice@x.com", claims.Email)
	assert.Equal(t, model.UserTypeAdmin, claims.UserType)
	require.NotNil(t, claims.IsVerified)
	assert.False(t, *claims.IsVerified)
	assert.Empty(t, claims.TokenID)
}

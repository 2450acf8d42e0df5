package auth

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/celestialseal/server/internal/mail"
	"github.com/celestialseal/server/internal/repo"
)

const (
	testAuthSecret   = "test-auth-secret-0123456789abcdef0123"
	testVerifySecret = "test-verify-secret-0123456789abcdef01"
	testIssuer       = "http://localhost:8080"
	testAudience     = "celestialseal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSender delivers synchronously so tests can read codes and links right away
type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingSender) Dispatch(_ context.Context, msg mail.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) last(t *testing.T) mail.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent, "no mail sent")
	return r.sent[len(r.sent)-1]
}

var (
	otpPattern  = regexp.MustCompile(`Your OTP is: (\d{4})$`)
	linkPattern = regexp.MustCompile(`/auth/verify/(\S+)$`)
)

func (r *recordingSender) lastOTP(t *testing.T) string {
	t.Helper()
	m := otpPattern.FindStringSubmatch(r.last(t).Body)
	require.Len(t, m, 2, "last mail carries no OTP")
	return m[1]
}

func (r *recordingSender) lastVerificationToken(t *testing.T) string {
	t.Helper()
	m := linkPattern.FindStringSubmatch(r.last(t).Body)
	require.Len(t, m, 2, "last mail carries no verification link")
	return m[1]
}

type testEnv struct {
	clock    *fakeClock
	store    *repo.MemoryStore
	users    repo.UserRepo
	sessions repo.RefreshRepo
	hasher   *BcryptHasher
	jwt      *JWTService
	tokens   *TokenIssuer
	otp      *OtpChallenge
	manager  *SessionManager
	mail     *recordingSender
	svc      *AuthService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		clock:  newFakeClock(),
		store:  repo.NewMemoryStore(),
		hasher: NewBcryptHasher(bcrypt.MinCost),
		mail:   &recordingSender{},
	}
	e.users = e.store.Users()
	e.sessions = e.store.Refresh()
	log := discardLogger()

	e.jwt = NewJWTService(testIssuer, testAudience, e.clock.Now)
	e.tokens = NewTokenIssuer(e.jwt, TokenConfig{
		AuthSecret:         testAuthSecret,
		VerificationSecret: testVerifySecret,
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		VerificationTTL:    15 * time.Minute,
	})
	e.otp = NewOtpChallenge(e.users, e.hasher, e.mail, OtpConfig{
		Expiry:   10 * time.Minute,
		Cooldown: 60 * time.Second,
	}, e.clock.Now, log)
	e.manager = NewSessionManager(e.sessions, e.users, e.tokens, log)

	svc, err := NewAuthService(Deps{
		Users:    e.users,
		Hasher:   e.hasher,
		Tokens:   e.tokens,
		OTP:      e.otp,
		Sessions: e.manager,
		Mail:     e.mail,
		LinkBase: testIssuer,
		Now:      e.clock.Now,
		Log:      log,
	})
	require.NoError(t, err)
	e.svc = svc
	return e
}

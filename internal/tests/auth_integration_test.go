package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/celestialseal/server/internal/auth"
	httphandler "github.com/celestialseal/server/internal/http"
	"github.com/celestialseal/server/internal/http/handlers"
	"github.com/celestialseal/server/internal/mail"
	"github.com/celestialseal/server/internal/middleware"
	"github.com/celestialseal/server/internal/repo"
)

// captureMailer records every message so tests can follow links and read codes
type captureMailer struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T, re *regexp.Regexp) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.msgs, "no mail sent")
	match := re.FindStringSubmatch(m.msgs[len(m.msgs)-1].Body)
	require.Len(t, match, 2, "unexpected mail body %q", m.msgs[len(m.msgs)-1].Body)
	return match[1]
}

var (
	otpPattern  = regexp.MustCompile(`Your OTP is: (\d{4})$`)
	linkPattern = regexp.MustCompile(`(http\S+/auth/verify/\S+)$`)
)

type testServer struct {
	Server     *httptest.Server
	mailer     *captureMailer
	dispatcher *mail.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := OpenTestDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := repo.NewUserRepo(database)
	sessions := repo.NewRefreshRepo(database)
	mailer := &captureMailer{}
	dispatcher := mail.NewDispatcher(mailer, log)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	server := httptest.NewUnstartedServer(nil)
	linkBase := "http://" + server.Listener.Addr().String()

	tokens := auth.NewTokenIssuer(auth.NewJWTService(linkBase, "celestialseal", time.Now), auth.TokenConfig{
		AuthSecret:         "integration-auth-secret-0123456789abcdef",
		VerificationSecret: "integration-verify-secret-0123456789abcd",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         24 * time.Hour,
		VerificationTTL:    15 * time.Minute,
	})
	svc, err := auth.NewAuthService(auth.Deps{
		Users:    users,
		Hasher:   hasher,
		Tokens:   tokens,
		OTP:      auth.NewOtpChallenge(users, hasher, dispatcher, auth.OtpConfig{Expiry: 10 * time.Minute, Cooldown: time.Minute}, time.Now, log),
		Sessions: auth.NewSessionManager(sessions, users, tokens, log),
		Mail:     dispatcher,
		LinkBase: linkBase,
		Now:      time.Now,
		Log:      log,
	})
	require.NoError(t, err)

	server.Config.Handler = httphandler.NewRouter(httphandler.RouterDeps{
		AuthService: svc,
		Cookies:     handlers.CookieConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
		Limiter:     middleware.NewMemoryLimiter(100),
		DB:          database,
		Log:         log,
	})
	server.Start()
	t.Cleanup(server.Close)

	return &testServer{Server: server, mailer: mailer, dispatcher: dispatcher}
}

// flush waits for asynchronous mail delivery
func (s *testServer) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.dispatcher.Wait(ctx))
}

func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := s.Server.Client()
	c.Jar = jar
	return c
}

func postJSON(t *testing.T, c *http.Client, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := c.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func TestAuthIntegration(t *testing.T) {
	ts := newTestServer(t)
	base := ts.Server.URL
	client := ts.client(t)

	creds := map[string]string{"username": "alice", "password": "Secret123!"}

	t.Run("health reports database", func(t *testing.T) {
		resp, err := client.Get(base + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok","database":"ok"}`, readBody(resp))
	})

	t.Run("register and verify", func(t *testing.T) {
		resp := postJSON(t, client, base+"/auth/register", map[string]string{
			"username": "alice", "email": "alice@x.com", "password": "Secret123!",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, readBody(resp))

		resp = postJSON(t, client, base+"/auth/register", map[string]string{
			"username": "alice", "email": "other@x.com", "password": "Secret123!",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		ts.flush(t)
		link := ts.mailer.last(t, linkPattern)

		verify, err := client.Get(link)
		require.NoError(t, err)
		defer verify.Body.Close()
		require.Equal(t, http.StatusOK, verify.StatusCode, readBody(verify))

		again, err := client.Get(link)
		require.NoError(t, err)
		defer again.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, again.StatusCode)

		me, err := client.Get(base + "/me")
		require.NoError(t, err)
		defer me.Body.Close()
		require.Equal(t, http.StatusOK, me.StatusCode)
		var user struct {
			Username   string `json:"username"`
			IsVerified bool   `json:"is_verified"`
		}
		require.NoError(t, json.NewDecoder(me.Body).Decode(&user))
		assert.Equal(t, "alice", user.Username)
		assert.True(t, user.IsVerified)
	})

	t.Run("otp login and refresh rotation", func(t *testing.T) {
		resp := postJSON(t, client, base+"/auth/sendotp", creds)
		require.Equal(t, http.StatusOK, resp.StatusCode, readBody(resp))
		ts.flush(t)
		code := ts.mailer.last(t, otpPattern)

		resp = postJSON(t, client, base+"/auth/login", map[string]string{
			"username": "alice", "password": "Secret123!", "otp": code,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, readBody(resp))

		// the code is single use
		resp = postJSON(t, client, base+"/auth/login", map[string]string{
			"username": "alice", "password": "Secret123!", "otp": code,
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		var first struct {
			RefreshToken string `json:"refresh_token"`
		}
		resp = postJSON(t, client, base+"/auth/refresh", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))

		resp = postJSON(t, client, base+"/auth/refresh", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// replaying a rotated token from another client is denied
		other := ts.client(t)
		resp = postJSON(t, other, base+"/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("logout all revokes every session", func(t *testing.T) {
		resp := postJSON(t, client, base+"/auth/logoutall", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, readBody(resp))

		resp = postJSON(t, client, base+"/auth/refresh", map[string]string{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

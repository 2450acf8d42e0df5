package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/logger"
	"github.com/celestialseal/server/internal/mail"
	"github.com/celestialseal/server/internal/model"
	"github.com/celestialseal/server/internal/repo"
	"github.com/celestialseal/server/pkg/apierror"
)

const (
	msgInvalidCredentials = "Invalid Credentials"
	msgNotVerified        = "User is not verified!"
	msgInvalidOTP         = "Invalid or Expired OTP"
	msgAlreadyVerified    = "User is already verified!"
	msgUserGone           = "User does not exist"
	msgBadVerification    = "Invalid or expired verification link"
)

// RegisterInput is an already validated registration request
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Deps wires the collaborators of AuthService
type Deps struct {
	Users    repo.UserRepo
	Hasher   Hasher
	Tokens   *TokenIssuer
	OTP      *OtpChallenge
	Sessions *SessionManager
	Mail     MailSender
	// LinkBase prefixes verification links, e.g. https://api.example.com
	LinkBase string
	Now      func() time.Time
	Log      *slog.Logger
}

// AuthService orchestrates authentication operations
type AuthService struct {
	users    repo.UserRepo
	hasher   Hasher
	tokens   *TokenIssuer
	otp      *OtpChallenge
	sessions *SessionManager
	mail     MailSender
	linkBase string
	now      func() time.Time
	log      *slog.Logger

	// compared against when the username is unknown so both paths cost one bcrypt run
	dummyHash string
}

// NewAuthService creates a new auth service
func NewAuthService(d Deps) (*AuthService, error) {
	dummy, err := d.Hasher.Hash("celestialseal-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:     d.Users,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		otp:       d.OTP,
		sessions:  d.Sessions,
		mail:      d.Mail,
		linkBase:  strings.TrimRight(d.LinkBase, "/"),
		now:       now,
		log:       d.Log,
		dummyHash: dummy,
	}, nil
}

// Register creates an unverified user and mails the verification link
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, ErrSecretTooLong) {
			return model.User{}, apierror.BadRequest("Password is too long")
		}
		return model.User{}, apierror.WrapInternal(err)
	}

	user := model.User{
		ID:           uuid.New(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		UserType:     model.UserTypeUser,
	}

	token, err := s.tokens.IssueVerification(user)
	if err != nil {
		return model.User{}, apierror.WrapInternal(err)
	}
	tokenHash := HashToken(token)
	user.VerificationTokenHash = &tokenHash

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repo.ErrUniqueViolation) {
			return model.User{}, apierror.AlreadyExists("Username or email already exists")
		}
		return model.User{}, apierror.WrapInternal(err)
	}

	s.sendVerification(ctx, created, token)
	s.log.Info("user registered", "user_id", created.ID, "email", logger.MaskEmail(created.Email))
	return created, nil
}

// ValidateCredentials is login step one: username and password. It returns the fresh user row.
func (s *AuthService) ValidateCredentials(ctx context.Context, username, password string) (model.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.Compare(password, s.dummyHash)
			return model.User{}, apierror.Unauthorized(msgInvalidCredentials)
		}
		return model.User{}, apierror.WrapInternal(err)
	}
	if !s.hasher.Compare(password, user.PasswordHash) {
		return model.User{}, apierror.Unauthorized(msgInvalidCredentials)
	}
	return user, nil
}

// Login is login step two: principal already passed ValidateCredentials
func (s *AuthService) Login(ctx context.Context, principal model.User, code string) (model.TokenPair, error) {
	if !principal.IsVerified {
		return model.TokenPair{}, apierror.Forbidden(msgNotVerified)
	}
	if !s.otp.Verify(principal, code, s.now()) {
		s.log.Warn("otp rejected", "user_id", principal.ID, "pending", principal.HasPendingOTP())
		return model.TokenPair{}, apierror.Forbidden(msgInvalidOTP)
	}
	if err := s.otp.Consume(ctx, principal); err != nil {
		s.log.Warn("otp consume lost", "user_id", principal.ID, "error", err)
		return model.TokenPair{}, apierror.Forbidden(msgInvalidOTP)
	}
	return s.sessions.Open(ctx, principal)
}

// Refresh rotates the session named in the refresh token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return model.TokenPair{}, apierror.Forbidden(accessDenied)
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.TokenPair{}, apierror.Forbidden(accessDenied)
	}
	sessionID, err := claims.SessionID()
	if err != nil {
		return model.TokenPair{}, apierror.Forbidden(accessDenied)
	}
	return s.sessions.Rotate(ctx, userID, refreshToken, sessionID)
}

// VerifyEmail consumes a verification link and logs the user in
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (model.TokenPair, error) {
	claims, err := s.tokens.VerifyVerification(token)
	if err != nil {
		return model.TokenPair{}, apierror.Unauthorized(msgBadVerification)
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.TokenPair{}, apierror.Unauthorized(msgBadVerification)
	}

	user, err := s.users.ConsumeVerification(ctx, userID, HashToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			s.log.Warn("verification link rejected", "user_id", userID, "error", err)
			return model.TokenPair{}, apierror.Unauthorized(msgBadVerification)
		}
		return model.TokenPair{}, apierror.WrapInternal(err)
	}

	s.log.Info("user verified", "user_id", user.ID)
	return s.sessions.Open(ctx, user)
}

// Reverify replaces the pending verification token and mails a new link
func (s *AuthService) Reverify(ctx context.Context, principal model.User) error {
	if principal.IsVerified {
		return apierror.BadRequest(msgAlreadyVerified)
	}

	token, err := s.tokens.IssueVerification(principal)
	if err != nil {
		return apierror.WrapInternal(err)
	}
	tokenHash := HashToken(token)
	user, err := s.users.RearmVerification(ctx, principal.ID, tokenHash)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return apierror.Unauthorized(msgUserGone)
		case errors.Is(err, repo.ErrConflict):
			// verified since the principal was loaded
			return apierror.BadRequest(msgAlreadyVerified)
		}
		return apierror.WrapInternal(err)
	}

	s.sendVerification(ctx, user, token)
	return nil
}

// SendOtp issues a login code to a verified user
func (s *AuthService) SendOtp(ctx context.Context, principal model.User) error {
	user, err := s.users.GetByID(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apierror.Unauthorized(msgUserGone)
		}
		return apierror.WrapInternal(err)
	}
	if !user.IsVerified {
		return apierror.Forbidden(msgNotVerified)
	}
	return s.otp.Issue(ctx, user)
}

// Logout drops the session named in the refresh token. Undecodable tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.DecodeRefresh(refreshToken)
	if err != nil {
		return nil
	}
	sessionID, err := claims.SessionID()
	if err != nil {
		return nil
	}
	return s.sessions.Revoke(ctx, sessionID)
}

// LogoutAll drops every session of userID
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	s.log.Info("all sessions revoked", "user_id", userID, "count", n)
	return nil
}

// GetUser loads a user for profile endpoints
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, apierror.NotFound("User not found")
		}
		return model.User{}, apierror.WrapInternal(err)
	}
	return user, nil
}

// VerifyAccess authenticates an access token and reloads its user
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (model.User, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return model.User{}, apierror.Unauthorized("Unauthorized")
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.User{}, apierror.Unauthorized("Unauthorized")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, apierror.Unauthorized("Unauthorized")
		}
		return model.User{}, apierror.WrapInternal(err)
	}
	return user, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user model.User, token string) {
	link := fmt.Sprintf("%s/auth/verify/%s", s.linkBase, token)
	s.mail.Dispatch(ctx, mail.VerificationMessage(user.Email, link))
}

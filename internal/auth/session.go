package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
	"github.com/celestialseal/server/internal/repo"
	"github.com/celestialseal/server/pkg/apierror"
)

const accessDenied = "Access Denied!"

// SessionManager owns refresh session records: one per login, rotated on every refresh
type SessionManager struct {
	sessions repo.RefreshRepo
	users    repo.UserRepo
	tokens   *TokenIssuer
	log      *slog.Logger
}

func NewSessionManager(sessions repo.RefreshRepo, users repo.UserRepo, tokens *TokenIssuer, log *slog.Logger) *SessionManager {
	return &SessionManager{sessions: sessions, users: users, tokens: tokens, log: log}
}

// Open creates a session for user and returns its first token pair.
// The record is created with a random placeholder hash because the refresh token embeds the record id.
func (m *SessionManager) Open(ctx context.Context, user model.User) (model.TokenPair, error) {
	placeholder, err := randomToken()
	if err != nil {
		return model.TokenPair{}, apierror.WrapInternal(fmt.Errorf("generate placeholder: %w", err))
	}
	placeholderHash := HashToken(placeholder)

	rec, err := m.sessions.Create(ctx, user.ID, placeholderHash)
	if err != nil {
		return model.TokenPair{}, apierror.WrapInternal(err)
	}

	access, refresh, err := m.tokens.IssuePair(user, rec.ID)
	if err != nil {
		return model.TokenPair{}, apierror.WrapInternal(err)
	}

	if err := m.sessions.SwapHash(ctx, rec.ID, placeholderHash, HashToken(refresh)); err != nil {
		return model.TokenPair{}, apierror.WrapInternal(err)
	}

	return model.TokenPair{AccessToken: access, RefreshToken: refresh, SessionID: rec.ID}, nil
}

// Rotate exchanges the current refresh token of a session for a new pair.
// All failures look the same to the caller; the reason is only logged.
func (m *SessionManager) Rotate(ctx context.Context, userID uuid.UUID, supplied string, sessionID uuid.UUID) (model.TokenPair, error) {
	deny := func(reason string, args ...any) (model.TokenPair, error) {
		m.log.Warn("refresh denied",
			append([]any{"reason", reason, "user_id", userID, "session_id", sessionID}, args...)...)
		return model.TokenPair{}, apierror.Forbidden(accessDenied)
	}

	rec, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return deny("session not found")
		}
		return deny("session lookup failed", "error", err)
	}
	if rec.UserID != userID {
		return deny("session owner mismatch")
	}
	if !tokenMatches(supplied, rec.TokenHash) {
		// token was already rotated: replay of an old token or a lost race
		return deny("stale refresh token")
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return deny("user lookup failed", "error", err)
	}

	access, refresh, err := m.tokens.IssuePair(user, rec.ID)
	if err != nil {
		return deny("mint failed", "error", err)
	}

	if err := m.sessions.SwapHash(ctx, rec.ID, rec.TokenHash, HashToken(refresh)); err != nil {
		return deny("rotation lost", "error", err)
	}

	return model.TokenPair{AccessToken: access, RefreshToken: refresh, SessionID: rec.ID}, nil
}

// Revoke deletes one session. Unknown sessions are ignored.
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return apierror.WrapInternal(err)
	}
	return nil
}

// RevokeAll deletes every session of userID
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := m.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, apierror.WrapInternal(err)
	}
	return n, nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
)

// RefreshRepo defines the interface for refresh session repository operations
type RefreshRepo interface {
	Create(ctx context.Context, userID uuid.UUID, tokenHash string) (model.RefreshSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.RefreshSession, error)
	// SwapHash replaces the stored hash iff it still equals oldHash, otherwise ErrConflict.
	SwapHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Create inserts a new refresh session
func (r *refreshRepo) Create(ctx context.Context, userID uuid.UUID, tokenHash string) (model.RefreshSession, error) {
	s := model.RefreshSession{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (id, user_id, token_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, s.ID, s.UserID, s.TokenHash).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.RefreshSession{}, fmt.Errorf("insert refresh session: %w", err)
	}
	return s, nil
}

// GetByID returns the session with the given id
func (r *refreshRepo) GetByID(ctx context.Context, id uuid.UUID) (model.RefreshSession, error) {
	var s model.RefreshSession
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, created_at, updated_at
		FROM refresh_sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return model.RefreshSession{}, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

// SwapHash rotates the stored token hash with a compare-and-swap
func (r *refreshRepo) SwapHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions
		SET token_hash = $3, updated_at = now()
		WHERE id = $1 AND token_hash = $2
	`, id, oldHash, newHash)
	if err != nil {
		return fmt.Errorf("swap session hash: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("swap session hash: %w", ErrConflict)
	}
	return nil
}

// Delete removes a single session
func (r *refreshRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteAllForUser removes every session of a user and returns how many were removed
func (r *refreshRepo) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all sessions for user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

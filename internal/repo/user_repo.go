package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	Create(ctx context.Context, user model.User) (model.User, error)
	Update(ctx context.Context, id uuid.UUID, patch model.UserPatch) (model.User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetOTP stores a freshly issued OTP. The write only happens if the stored
	// otp_issued_at still equals prevIssuedAt (nil meaning "no OTP pending"),
	// otherwise ErrConflict is returned.
	SetOTP(ctx context.Context, id uuid.UUID, otpHash string, expiry, issuedAt time.Time, prevIssuedAt *time.Time) error
	// ClearOTP consumes the OTP issued at issuedAt. ErrConflict if it was already consumed or replaced.
	ClearOTP(ctx context.Context, id uuid.UUID, issuedAt time.Time) error
	// ConsumeVerification marks the user verified if tokenHash is the pending verification token.
	ConsumeVerification(ctx context.Context, id uuid.UUID, tokenHash string) (model.User, error)
	// RearmVerification replaces the pending verification token of an unverified user.
	// ErrConflict if the user is already verified, ErrNotFound if it does not exist.
	RearmVerification(ctx context.Context, id uuid.UUID, tokenHash string) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, username, email, password_hash, is_verified, verification_token_hash,
	otp_hash, otp_expiry, otp_issued_at, user_type, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&u.VerificationTokenHash,
		&u.OTPHash,
		&u.OTPExpiry,
		&u.OTPIssuedAt,
		&u.UserType,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (r *userRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// Create inserts a new user. Username and email collisions yield ErrUniqueViolation.
func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.UserType == "" {
		user.UserType = model.UserTypeUser
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, is_verified, verification_token_hash, user_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsVerified,
		user.VerificationTokenHash,
		user.UserType,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("failed to create user: %w", ErrUniqueViolation)
		}
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Update applies a partial update and returns the updated row
func (r *userRepo) Update(ctx context.Context, id uuid.UUID, patch model.UserPatch) (model.User, error) {
	if patch.Empty() {
		return r.GetByID(ctx, id)
	}

	sets := make([]string, 0, 8)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.IsVerified != nil {
		add("is_verified", *patch.IsVerified)
	}
	if patch.ClearVerification {
		sets = append(sets, "verification_token_hash = NULL")
	} else if patch.VerificationTokenHash != nil {
		add("verification_token_hash", *patch.VerificationTokenHash)
	}
	if patch.UserType != nil {
		add("user_type", string(*patch.UserType))
	}
	sets = append(sets, "updated_at = now()")

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("failed to update user: %w", ErrUniqueViolation)
		}
		return model.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// Delete removes a user; refresh sessions go with it (ON DELETE CASCADE)
func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetOTP writes the OTP triple iff otp_issued_at still holds the value the caller observed
func (r *userRepo) SetOTP(ctx context.Context, id uuid.UUID, otpHash string, expiry, issuedAt time.Time, prevIssuedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET otp_hash = $2, otp_expiry = $3, otp_issued_at = $4, updated_at = now()
		WHERE id = $1 AND otp_issued_at IS NOT DISTINCT FROM $5
	`, id, otpHash, expiry, issuedAt, prevIssuedAt)
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set otp: %w", ErrConflict)
	}
	return nil
}

// ClearOTP clears the OTP triple iff it still belongs to the issuance at issuedAt
func (r *userRepo) ClearOTP(ctx context.Context, id uuid.UUID, issuedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET otp_hash = NULL, otp_expiry = NULL, otp_issued_at = NULL, updated_at = now()
		WHERE id = $1 AND otp_issued_at = $2
	`, id, issuedAt)
	if err != nil {
		return fmt.Errorf("clear otp: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("clear otp: %w", ErrConflict)
	}
	return nil
}

// ConsumeVerification flips is_verified and clears the pending token in one statement
func (r *userRepo) ConsumeVerification(ctx context.Context, id uuid.UUID, tokenHash string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET is_verified = true, verification_token_hash = NULL, updated_at = now()
		WHERE id = $1 AND verification_token_hash = $2
		RETURNING `+userColumns, id, tokenHash)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("consume verification: %w", ErrConflict)
		}
		return model.User{}, fmt.Errorf("consume verification: %w", err)
	}
	return user, nil
}

func (r *userRepo) RearmVerification(ctx context.Context, id uuid.UUID, tokenHash string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET verification_token_hash = $2, updated_at = now()
		WHERE id = $1 AND NOT is_verified
		RETURNING `+userColumns, id, tokenHash)
	user, err := scanUser(row)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("rearm verification: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return model.User{}, fmt.Errorf("rearm verification: %w", err)
	}
	if !exists {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return model.User{}, fmt.Errorf("rearm verification: %w", ErrConflict)
}

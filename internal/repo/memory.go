package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
)

// MemoryStore keeps users and refresh sessions in process memory.
// It backs DEV_MODE runs without DATABASE_URL and the service tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	sessions map[uuid.UUID]model.RefreshSession
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]model.User),
		sessions: make(map[uuid.UUID]model.RefreshSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Users returns the UserRepo view of the store
func (m *MemoryStore) Users() UserRepo { return memoryUsers{m} }

// Refresh returns the RefreshRepo view of the store
func (m *MemoryStore) Refresh() RefreshRepo { return memoryRefresh{m} }

// copyUser detaches pointer fields so callers can't mutate stored rows
func copyUser(u model.User) model.User {
	if u.VerificationTokenHash != nil {
		v := *u.VerificationTokenHash
		u.VerificationTokenHash = &v
	}
	if u.OTPHash != nil {
		v := *u.OTPHash
		u.OTPHash = &v
	}
	if u.OTPExpiry != nil {
		v := *u.OTPExpiry
		u.OTPExpiry = &v
	}
	if u.OTPIssuedAt != nil {
		v := *u.OTPIssuedAt
		u.OTPIssuedAt = &v
	}
	return u
}

type memoryUsers struct{ m *MemoryStore }

func (r memoryUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return copyUser(u), nil
}

func (r memoryUsers) GetByUsername(_ context.Context, username string) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return model.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

// taken reports whether username or email belong to a user other than self. Caller holds mu.
func (r memoryUsers) taken(self uuid.UUID, username, email string) bool {
	for id, u := range r.m.users {
		if id == self {
			continue
		}
		if u.Username == username || u.Email == email {
			return true
		}
	}
	return false
}

func (r memoryUsers) Create(_ context.Context, user model.User) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.UserType == "" {
		user.UserType = model.UserTypeUser
	}
	if _, exists := r.m.users[user.ID]; exists || r.taken(user.ID, user.Username, user.Email) {
		return model.User{}, fmt.Errorf("failed to create user: %w", ErrUniqueViolation)
	}
	now := r.m.now()
	user.CreatedAt, user.UpdatedAt = now, now
	user.OTPHash, user.OTPExpiry, user.OTPIssuedAt = nil, nil, nil
	r.m.users[user.ID] = copyUser(user)
	return copyUser(user), nil
}

func (r memoryUsers) Update(_ context.Context, id uuid.UUID, patch model.UserPatch) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	u, ok := r.m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if patch.Empty() {
		return copyUser(u), nil
	}
	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if r.taken(id, u.Username, u.Email) {
		return model.User{}, fmt.Errorf("failed to update user: %w", ErrUniqueViolation)
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.IsVerified != nil {
		u.IsVerified = *patch.IsVerified
	}
	if patch.ClearVerification {
		u.VerificationTokenHash = nil
	} else if patch.VerificationTokenHash != nil {
		v := *patch.VerificationTokenHash
		u.VerificationTokenHash = &v
	}
	if patch.UserType != nil {
		u.UserType = *patch.UserType
	}
	u.UpdatedAt = r.m.now()
	r.m.users[id] = u
	return copyUser(u), nil
}

func (r memoryUsers) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(r.m.users, id)
	for sid, s := range r.m.sessions {
		if s.UserID == id {
			delete(r.m.sessions, sid)
		}
	}
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r memoryUsers) SetOTP(_ context.Context, id uuid.UUID, otpHash string, expiry, issuedAt time.Time, prevIssuedAt *time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok || !sameInstant(u.OTPIssuedAt, prevIssuedAt) {
		return fmt.Errorf("set otp: %w", ErrConflict)
	}
	u.OTPHash, u.OTPExpiry, u.OTPIssuedAt = &otpHash, &expiry, &issuedAt
	u.UpdatedAt = r.m.now()
	r.m.users[id] = u
	return nil
}

func (r memoryUsers) ClearOTP(_ context.Context, id uuid.UUID, issuedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok || !sameInstant(u.OTPIssuedAt, &issuedAt) {
		return fmt.Errorf("clear otp: %w", ErrConflict)
	}
	u.OTPHash, u.OTPExpiry, u.OTPIssuedAt = nil, nil, nil
	u.UpdatedAt = r.m.now()
	r.m.users[id] = u
	return nil
}

func (r memoryUsers) ConsumeVerification(_ context.Context, id uuid.UUID, tokenHash string) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok || u.VerificationTokenHash == nil || *u.VerificationTokenHash != tokenHash {
		return model.User{}, fmt.Errorf("consume verification: %w", ErrConflict)
	}
	u.IsVerified = true
	u.VerificationTokenHash = nil
	u.UpdatedAt = r.m.now()
	r.m.users[id] = u
	return copyUser(u), nil
}

func (r memoryUsers) RearmVerification(_ context.Context, id uuid.UUID, tokenHash string) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if u.IsVerified {
		return model.User{}, fmt.Errorf("rearm verification: %w", ErrConflict)
	}
	u.VerificationTokenHash = &tokenHash
	u.UpdatedAt = r.m.now()
	r.m.users[id] = u
	return copyUser(u), nil
}

type memoryRefresh struct{ m *MemoryStore }

func (r memoryRefresh) Create(_ context.Context, userID uuid.UUID, tokenHash string) (model.RefreshSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[userID]; !ok {
		return model.RefreshSession{}, fmt.Errorf("insert refresh session: user %s: %w", userID, ErrNotFound)
	}
	now := r.m.now()
	s := model.RefreshSession{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.m.sessions[s.ID] = s
	return s, nil
}

func (r memoryRefresh) GetByID(_ context.Context, id uuid.UUID) (model.RefreshSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return model.RefreshSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (r memoryRefresh) SwapHash(_ context.Context, id uuid.UUID, oldHash, newHash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok || s.TokenHash != oldHash {
		return fmt.Errorf("swap session hash: %w", ErrConflict)
	}
	s.TokenHash = newHash
	s.UpdatedAt = r.m.now()
	r.m.sessions[id] = s
	return nil
}

func (r memoryRefresh) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(r.m.sessions, id)
	return nil
}

func (r memoryRefresh) DeleteAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, s := range r.m.sessions {
		if s.UserID == userID {
			delete(r.m.sessions, id)
			n++
		}
	}
	return n, nil
}

package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestialseal/server/internal/model"
)

func seedUser(t *testing.T, users UserRepo, name string) model.User {
	t.Helper()
	u, err := users.Create(context.Background(), model.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "pw",
	})
	require.NoError(t, err)
	return u
}

func TestMemoryStore_UniqueUsernameAndEmail(t *testing.T) {
	users := NewMemoryStore().Users()
	seedUser(t, users, "alice")

	_, err := users.Create(context.Background(), model.User{Username: "alice", Email: "other@example.com"})
	require.ErrorIs(t, err, ErrUniqueViolation)

	_, err = users.Create(context.Background(), model.User{Username: "bob", Email: "alice@example.com"})
	require.ErrorIs(t, err, ErrUniqueViolation)
}

func TestMemoryStore_ReturnedUserIsDetached(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore().Users()
	u := seedUser(t, users, "alice")

	issued := time.Now().UTC()
	require.NoError(t, users.SetOTP(ctx, u.ID, "h1", issued.Add(time.Minute), issued, nil))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	*got.OTPHash = "tampered"

	again, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", *again.OTPHash)
}

func TestMemoryStore_SetOTPCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore().Users()
	u := seedUser(t, users, "alice")

	first := time.Now().UTC()
	require.NoError(t, users.SetOTP(ctx, u.ID, "h1", first.Add(time.Minute), first, nil))

	// a second writer that also observed "no OTP" loses
	second := first.Add(time.Second)
	require.ErrorIs(t, users.SetOTP(ctx, u.ID, "h2", second.Add(time.Minute), second, nil), ErrConflict)

	// a writer that observed the first issuance wins
	require.NoError(t, users.SetOTP(ctx, u.ID, "h2", second.Add(time.Minute), second, &first))

	require.ErrorIs(t, users.ClearOTP(ctx, u.ID, first), ErrConflict)
	require.NoError(t, users.ClearOTP(ctx, u.ID, second))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.HasPendingOTP())
	assert.Nil(t, got.OTPHash)
	assert.Nil(t, got.OTPExpiry)
	assert.Nil(t, got.OTPIssuedAt)
}

func TestMemoryStore_ConsumeVerificationIsSingleUse(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore().Users()
	u := seedUser(t, users, "alice")

	hash := "token-hash"
	_, err := users.Update(ctx, u.ID, model.UserPatch{VerificationTokenHash: &hash})
	require.NoError(t, err)

	_, err = users.ConsumeVerification(ctx, u.ID, "other")
	require.ErrorIs(t, err, ErrConflict)

	verified, err := users.ConsumeVerification(ctx, u.ID, hash)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Nil(t, verified.VerificationTokenHash)

	_, err = users.ConsumeVerification(ctx, u.ID, hash)
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_RearmVerificationOnlyWhileUnverified(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore().Users()
	u := seedUser(t, users, "alice")

	_, err := users.RearmVerification(ctx, uuid.New(), "x")
	require.ErrorIs(t, err, ErrNotFound)

	rearmed, err := users.RearmVerification(ctx, u.ID, "first")
	require.NoError(t, err)
	require.NotNil(t, rearmed.VerificationTokenHash)

	_, err = users.ConsumeVerification(ctx, u.ID, "first")
	require.NoError(t, err)

	_, err = users.RearmVerification(ctx, u.ID, "second")
	require.ErrorIs(t, err, ErrConflict)
	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.VerificationTokenHash)
}

func TestMemoryStore_RefreshLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users, sessions := store.Users(), store.Refresh()
	u := seedUser(t, users, "alice")

	_, err := sessions.Create(ctx, uuid.New(), "x")
	require.ErrorIs(t, err, ErrNotFound)

	s1, err := sessions.Create(ctx, u.ID, "a")
	require.NoError(t, err)
	_, err = sessions.Create(ctx, u.ID, "b")
	require.NoError(t, err)

	require.NoError(t, sessions.SwapHash(ctx, s1.ID, "a", "a2"))
	require.ErrorIs(t, sessions.SwapHash(ctx, s1.ID, "a", "a3"), ErrConflict)

	require.NoError(t, sessions.Delete(ctx, s1.ID))
	require.ErrorIs(t, sessions.Delete(ctx, s1.ID), ErrNotFound)

	n, err := sessions.DeleteAllForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_DeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users, sessions := store.Users(), store.Refresh()
	u := seedUser(t, users, "alice")

	s, err := sessions.Create(ctx, u.ID, "a")
	require.NoError(t, err)
	require.NoError(t, users.Delete(ctx, u.ID))

	_, err = sessions.GetByID(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/celestialseal/server/internal/logger"
	"github.com/celestialseal/server/internal/mail"
	"github.com/celestialseal/server/internal/model"
	"github.com/celestialseal/server/internal/repo"
	"github.com/celestialseal/server/pkg/apierror"
)

const (
	otpMin = 1000
	otpMax = 9999

	// lost CAS rounds before giving up; each loss means another request issued or consumed a code
	maxIssueAttempts = 3
)

// MailSender queues outgoing mail without blocking the caller
type MailSender interface {
	Dispatch(ctx context.Context, msg mail.Message)
}

// OtpConfig holds OTP lifetimes
type OtpConfig struct {
	Expiry   time.Duration
	Cooldown time.Duration
}

// OtpChallenge issues and checks the 4-digit login codes stored on the user row
type OtpChallenge struct {
	users    repo.UserRepo
	hasher   Hasher
	mail     MailSender
	expiry   time.Duration
	cooldown time.Duration
	now      func() time.Time
	generate func() (string, error)
	log      *slog.Logger
}

func NewOtpChallenge(users repo.UserRepo, hasher Hasher, sender MailSender, cfg OtpConfig, now func() time.Time, log *slog.Logger) *OtpChallenge {
	if now == nil {
		now = time.Now
	}
	return &OtpChallenge{
		users:    users,
		hasher:   hasher,
		mail:     sender,
		expiry:   cfg.Expiry,
		cooldown: cfg.Cooldown,
		now:      now,
		generate: generateOTPCode,
		log:      log,
	}
}

// stamp normalizes to the precision Postgres stores so CAS comparisons round-trip
func (c *OtpChallenge) stamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// Issue generates, stores and mails a new code unless the cooldown is still running
func (c *OtpChallenge) Issue(ctx context.Context, user model.User) error {
	for range maxIssueAttempts {
		now := c.stamp()
		if err := c.checkCooldown(user, now); err != nil {
			return err
		}

		code, err := c.generate()
		if err != nil {
			return apierror.WrapInternal(fmt.Errorf("generate otp: %w", err))
		}
		hash, err := c.hasher.Hash(code)
		if err != nil {
			return apierror.WrapInternal(fmt.Errorf("hash otp: %w", err))
		}

		err = c.users.SetOTP(ctx, user.ID, hash, now.Add(c.expiry), now, user.OTPIssuedAt)
		if err == nil {
			c.mail.Dispatch(ctx, mail.OTPMessage(user.Email, code))
			c.log.Info("otp issued", "user_id", user.ID, "email", logger.MaskEmail(user.Email))
			return nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return apierror.WrapInternal(err)
		}

		// someone else changed the OTP since we read the user; re-read and re-check the cooldown
		user, err = c.users.GetByID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return apierror.Unauthorized("User does not exist")
			}
			return apierror.WrapInternal(err)
		}
	}
	return apierror.Cooldown(c.cooldownSeconds())
}

func (c *OtpChallenge) checkCooldown(user model.User, now time.Time) error {
	if user.OTPIssuedAt == nil {
		return nil
	}
	elapsed := now.Sub(*user.OTPIssuedAt)
	if elapsed >= c.cooldown {
		return nil
	}
	remaining := c.cooldown - elapsed
	if remaining > c.cooldown {
		remaining = c.cooldown
	}
	wait := int(math.Ceil(remaining.Seconds()))
	if wait < 1 {
		wait = 1
	}
	return apierror.Cooldown(wait)
}

func (c *OtpChallenge) cooldownSeconds() int {
	return int(math.Ceil(c.cooldown.Seconds()))
}

// Verify reports whether code matches the pending, unexpired OTP of user
func (c *OtpChallenge) Verify(user model.User, code string, now time.Time) bool {
	if !user.HasPendingOTP() {
		return false
	}
	if !now.Before(*user.OTPExpiry) {
		return false
	}
	return c.hasher.Compare(code, *user.OTPHash)
}

// Consume clears the OTP so it cannot be replayed. It fails if the code was consumed or replaced meanwhile.
func (c *OtpChallenge) Consume(ctx context.Context, user model.User) error {
	if user.OTPIssuedAt == nil {
		return repo.ErrConflict
	}
	return c.users.ClearOTP(ctx, user.ID, *user.OTPIssuedAt)
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

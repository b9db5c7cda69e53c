package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStaleCounter reports a lost compare-and-set on the TOTP counter
	// watermark: the stored watermark is already at or past the submitted
	// counter. The caller must treat the code as replayed.
	ErrStaleCounter = errors.New("store: totp counter not advanced")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement it. Sub-repositories keep concerns tidy and let transactions
// reuse the same repo code.
type Store interface {
	Users() Users
	Challenges() Challenges

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller MUST Commit or
	// Rollback the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns
	// nil and rolling back otherwise. Preferred over Tx for multi-step
	// writes that must be atomic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user and returns the assigned id.
	// Reports ErrAlreadyExists when email or username is taken.
	CreateUser(ctx context.Context, u domain.User) (int64, error)

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id int64) (domain.User, error)

	// GetUserByEmail looks a user up by lowercased email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByUsername looks a user up by username.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// UpdateTOTPSecret sets or clears the encrypted TOTP secret blob.
	UpdateTOTPSecret(ctx context.Context, userID int64, encrypted *string) error

	// SetTwoFactorEnabled flips the 2FA flag.
	SetTwoFactorEnabled(ctx context.Context, userID int64, enabled bool) error

	// ClearAbandonedTOTPSecrets removes provisional TOTP secrets left by
	// abandoned enrollments: users with two-factor disabled, a stored
	// secret, and no setup challenge alive as of now.
	ClearAbandonedTOTPSecrets(ctx context.Context, now time.Time) error

	// UpdateLastAcceptedCounter advances the TOTP watermark with
	// compare-and-set semantics: the write only lands when the stored
	// watermark is null or strictly below counter, otherwise
	// ErrStaleCounter. Two concurrent submissions of the same code can
	// therefore never both succeed.
	UpdateLastAcceptedCounter(ctx context.Context, userID int64, counter int64) error
}

type Challenges interface {
	// CreateChallenge stores a fresh pending-2FA challenge.
	CreateChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallenge returns a challenge that has not expired as of now.
	GetChallenge(ctx context.Context, id string, now time.Time) (domain.Challenge, error)

	// IncrementChallengeAttempts bumps the failed-attempt counter and
	// returns the updated challenge.
	IncrementChallengeAttempts(ctx context.Context, id string) (domain.Challenge, error)

	// DeleteChallenge removes a challenge, consuming its token.
	DeleteChallenge(ctx context.Context, id string) error

	// DeleteUserChallenges removes all of a user's challenges with the
	// given purpose (a re-run setup invalidates earlier setup tokens).
	DeleteUserChallenges(ctx context.Context, userID int64, purpose domain.ChallengePurpose) error

	// DeleteExpiredChallenges removes expired rows (housekeeping).
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

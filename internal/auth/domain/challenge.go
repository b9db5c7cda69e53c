package domain

import "time"

// ChallengePurpose says why a pending-2FA challenge exists.
type ChallengePurpose string

const (
	// ChallengeSetup gates the first verification of a freshly enrolled
	// secret; success flips two_factor_enabled on.
	ChallengeSetup ChallengePurpose = "setup"

	// ChallengeLogin gates the TOTP step of a password login on an
	// account that already has two-factor enabled.
	ChallengeLogin ChallengePurpose = "login"
)

// Challenge is the persisted half of a pending-2FA token. The token carries
// a random nonce; the row is keyed by the nonce's fingerprint. Deleting the
// row is what makes the token single-use, and the attempt counter is what
// bounds code guessing per challenge.
type Challenge struct {
	ID        string // fingerprint of the pending-token nonce
	UserID    int64
	Purpose   ChallengePurpose
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

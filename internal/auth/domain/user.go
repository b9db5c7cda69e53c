package domain

import "time"

// User is an account record. The store assigns the numeric id on creation
// and it never changes afterwards.
type User struct {
	ID           int64
	Email        string // unique, stored lowercased
	Username     string // unique
	PasswordHash string // bcrypt encoded

	// TOTPSecretEncrypted is the AEAD blob holding the TOTP seed. Non-nil
	// iff two-factor is enabled or a setup is in progress.
	TOTPSecretEncrypted *string

	TwoFactorEnabled bool

	// LastAcceptedCounter is the highest TOTP time-step counter a code has
	// been accepted for. The store only ever advances it, which is what
	// makes code replay (including replay via concurrent submission)
	// impossible.
	LastAcceptedCounter *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

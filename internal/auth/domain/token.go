package domain

// SessionResponse carries a freshly issued session token. Returned by
// register, by login on accounts without 2FA, and by a successful 2FA
// verification.
type SessionResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // always "Bearer"
	ExpiresIn   int64  `json:"expires_in"` // seconds until expiry
}

// TwoFactorChallengeResponse is the state signal returned by login when the
// password checked out but the account requires a TOTP code. It never
// contains a session token.
type TwoFactorChallengeResponse struct {
	TwoFactorRequired bool   `json:"two_factor_required"` // always true
	PendingToken      string `json:"pending_token"`
	ExpiresIn         int64  `json:"expires_in"` // seconds the pending token stays valid
}

// TwoFactorSetupResponse hands the caller the enrollment material exactly
// once. The plaintext secret is never retrievable again.
type TwoFactorSetupResponse struct {
	Secret          string `json:"secret"`           // base32 TOTP seed
	ProvisioningURI string `json:"provisioning_uri"` // otpauth:// URI for QR rendering
	PendingToken    string `json:"pending_token"`    // present to verify2fa with the first code
}

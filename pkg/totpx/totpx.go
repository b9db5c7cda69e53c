// Package totpx implements RFC 6238 time-based one-time password generation
// and verification on top of pquerna/otp.
//
// The engine is stateless: it tells the caller which time-step counter a
// submitted code matched so the caller can persist a per-user watermark and
// reject replays. The engine itself never remembers anything.
package totpx

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultPeriod is the TOTP time-step in seconds per RFC 6238.
	DefaultPeriod = 30

	// DefaultSecretSize is the raw secret length in bytes (160 bits),
	// the size common authenticator apps expect.
	DefaultSecretSize = 20

	// DefaultSkew is the number of adjacent time steps tolerated on each
	// side of the current one during verification.
	DefaultSkew = 1
)

// b32 encodes secrets the way authenticator apps consume them: RFC 4648
// base32, no padding.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Engine generates and verifies TOTP codes. The zero value is not usable;
// construct with New.
type Engine struct {
	issuer    string
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
}

// Options configures an Engine. Zero fields fall back to RFC 6238 defaults
// compatible with common authenticator apps (30s period, 6 digits, SHA-1).
type Options struct {
	Issuer    string
	Period    uint
	Digits    int
	Algorithm string // "SHA1", "SHA256" or "SHA512"
}

// New builds an Engine from the given options.
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.Issuer) == "" {
		return nil, fmt.Errorf("totpx: issuer is required")
	}

	period := opts.Period
	if period == 0 {
		period = DefaultPeriod
	}

	digits := otp.DigitsSix
	switch opts.Digits {
	case 0, 6:
	case 8:
		digits = otp.DigitsEight
	default:
		return nil, fmt.Errorf("totpx: unsupported digit count %d", opts.Digits)
	}

	algorithm, err := parseAlgorithm(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Engine{
		issuer:    opts.Issuer,
		period:    period,
		digits:    digits,
		algorithm: algorithm,
	}, nil
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("totpx: unsupported algorithm %q", name)
	}
}

// Issuer returns the issuer label stamped into provisioning URIs.
func (e *Engine) Issuer() string { return e.issuer }

// Period returns the time-step length.
func (e *Engine) Period() time.Duration {
	return time.Duration(e.period) * time.Second
}

// GenerateSecret produces a fresh 160-bit shared secret, base32-encoded.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, DefaultSecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totpx: failed to generate secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI that QR-encodes the secret for
// authenticator apps, labelled with the engine's issuer and the account.
func (e *Engine) ProvisioningURI(secret, account string) (string, error) {
	raw, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("totpx: secret is not valid base32: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Secret:      raw,
		Period:      e.period,
		Digits:      e.digits,
		Algorithm:   e.algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("totpx: failed to build provisioning URI: %w", err)
	}

	return key.URL(), nil
}

// Code computes the code for the time step containing t.
func (e *Engine) Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, e.validateOpts())
	if err != nil {
		return "", fmt.Errorf("totpx: failed to compute code: %w", err)
	}
	return code, nil
}

// Verify checks a submitted code against the counter window
// [current-skew, current+skew]. It returns the matched counter and true on
// success, or 0 and false otherwise.
//
// Every candidate in the window is computed and compared in the same fixed
// order with constant-time equality, so response timing does not reveal
// which counter (if any) matched.
func (e *Engine) Verify(secret, code string, t time.Time, skew uint) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != e.digits.Length() {
		return 0, false
	}

	step := time.Duration(e.period) * time.Second
	current := t.Unix() / int64(e.period)

	var (
		matched int64
		ok      bool
	)
	for offset := -int64(skew); offset <= int64(skew); offset++ {
		candidate, err := totp.GenerateCodeCustom(secret, t.Add(time.Duration(offset)*step), e.validateOpts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 && !ok {
			matched = current + offset
			ok = true
		}
	}

	return matched, ok
}

func (e *Engine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Skew:      0,
		Digits:    e.digits,
		Algorithm: e.algorithm,
	}
}

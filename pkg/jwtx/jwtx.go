// Package jwtx issues and verifies the two token kinds the auth service
// deals in: full session tokens and short-lived pending-2FA tokens.
//
// Kind is carried as an explicit claim and the verifier exposes a separate
// entry point per kind, so a call site physically cannot accept the wrong
// one. Signature validity alone is never enough.
package jwtx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds. The values end up in the "knd" claim.
const (
	KindSession = "session"
	KindPending = "pending_2fa"
)

// Default TTLs. Session tokens are configurable per-service; pending tokens
// should stay short since they only bridge the 2FA challenge.
const (
	DefaultSessionTTL = 1 * time.Hour
	DefaultPendingTTL = 5 * time.Minute
)

var (
	ErrMalformed  = errors.New("jwtx: malformed token")
	ErrInvalidSig = errors.New("jwtx: invalid signature")
	ErrExpired    = errors.New("jwtx: token expired")
	ErrWrongKind  = errors.New("jwtx: wrong token kind")
)

// placeholderSecrets are signing secrets that ship in examples and dev
// environments. Booting with one of these is a configuration error, not
// something to silently accept.
var placeholderSecrets = map[string]struct{}{
	"secret":     {},
	"changeme":   {},
	"change-me":  {},
	"dev-secret": {},
}

// Claims are the claims embedded in both token kinds. Session tokens carry
// the identity fields; pending tokens carry only subject and nonce.
type Claims struct {
	jwt.RegisteredClaims

	// Kind discriminates session tokens from pending-2FA tokens.
	Kind string `json:"knd"`

	// Email and Username are set on session tokens only.
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`

	// Nonce is the single-use challenge reference on pending tokens.
	Nonce string `json:"nonce,omitempty"`
}

// UserID parses the numeric subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric subject", ErrMalformed)
	}
	return id, nil
}

// SessionIdentity is what goes into a session token.
type SessionIdentity struct {
	UserID   int64
	Email    string
	Username string
}

// Issuer signs and verifies tokens with an HMAC-SHA256 secret.
type Issuer struct {
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	pendingTTL time.Duration
}

// NewIssuer builds an Issuer. The signing secret must be non-empty,
// reasonably long, and not a known placeholder.
func NewIssuer(secret, issuer string, sessionTTL, pendingTTL time.Duration) (*Issuer, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("jwtx: signing secret is not configured")
	}
	if _, bad := placeholderSecrets[strings.ToLower(trimmed)]; bad {
		return nil, fmt.Errorf("jwtx: signing secret %q is a placeholder, refusing to start", trimmed)
	}
	if len(trimmed) < 32 {
		return nil, fmt.Errorf("jwtx: signing secret too short (%d chars, want >= 32)", len(trimmed))
	}

	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}

	return &Issuer{
		secret:     []byte(trimmed),
		issuer:     issuer,
		sessionTTL: sessionTTL,
		pendingTTL: pendingTTL,
	}, nil
}

// SessionTTL reports the configured session token lifetime.
func (i *Issuer) SessionTTL() time.Duration { return i.sessionTTL }

// PendingTTL reports the configured pending token lifetime.
func (i *Issuer) PendingTTL() time.Duration { return i.pendingTTL }

// IssueSession signs a full session token for an authenticated user.
func (i *Issuer) IssueSession(id SessionIdentity, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: i.registered(id.UserID, now, i.sessionTTL),
		Kind:             KindSession,
		Email:            id.Email,
		Username:         id.Username,
	}
	return i.sign(claims)
}

// IssuePending signs a short-lived pending-2FA token referencing a
// single-use challenge nonce.
func (i *Issuer) IssuePending(userID int64, nonce string, now time.Time) (string, error) {
	if nonce == "" {
		return "", errors.New("jwtx: pending token requires a nonce")
	}
	claims := Claims{
		RegisteredClaims: i.registered(userID, now, i.pendingTTL),
		Kind:             KindPending,
		Nonce:            nonce,
	}
	return i.sign(claims)
}

// VerifySession verifies a token and requires it to be a session token.
func (i *Issuer) VerifySession(token string) (*Claims, error) {
	return i.verify(token, KindSession)
}

// VerifyPending verifies a token and requires it to be a pending-2FA token.
func (i *Issuer) VerifyPending(token string) (*Claims, error) {
	return i.verify(token, KindPending)
}

// VerifyAny verifies a token of either kind. Used where both a session and
// a pending token are acceptable (2FA setup).
func (i *Issuer) VerifyAny(token string) (*Claims, error) {
	return i.verify(token, "")
}

func (i *Issuer) registered(userID int64, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) verify(token, wantKind string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSig
		default:
			return nil, ErrMalformed
		}
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}

	// Kind is checked after signature validity so a forged kind claim
	// never gets this far, and the wrong kind is reported distinctly.
	if claims.Kind != KindSession && claims.Kind != KindPending {
		return nil, ErrMalformed
	}
	if wantKind != "" && claims.Kind != wantKind {
		return nil, ErrWrongKind
	}

	return claims, nil
}

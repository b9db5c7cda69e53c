package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-signing-secret-0123456789abcdef"

func newTestIssuer(t *testing.T) *jwtx.Issuer {
	t.Helper()

	iss, err := jwtx.NewIssuer(testSecret, "test-auth", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	return iss
}

func TestNewIssuerRejectsBadSecrets(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		_, err := jwtx.NewIssuer("", "iss", 0, 0)
		require.Error(t, err)
	})

	t.Run("placeholder", func(t *testing.T) {
		for _, secret := range []string{"secret", "changeme", "CHANGE-ME", "dev-secret"} {
			_, err := jwtx.NewIssuer(secret, "iss", 0, 0)
			require.Error(t, err, "placeholder %q must be rejected", secret)
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := jwtx.NewIssuer("short", "iss", 0, 0)
		require.Error(t, err)
	})
}

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Now()

	token, err := iss.IssueSession(jwtx.SessionIdentity{
		UserID:   42,
		Email:    "a@x.com",
		Username: "alice",
	}, now)
	require.NoError(t, err)

	claims, err := iss.VerifySession(token)
	require.NoError(t, err)

	userID, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
	require.Equal(t, jwtx.KindSession, claims.Kind)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, "alice", claims.Username)
	require.Empty(t, claims.Nonce)
}

func TestPendingTokenRoundTrip(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Now()

	token, err := iss.IssuePending(42, "nonce-1", now)
	require.NoError(t, err)

	claims, err := iss.VerifyPending(token)
	require.NoError(t, err)
	require.Equal(t, jwtx.KindPending, claims.Kind)
	require.Equal(t, "nonce-1", claims.Nonce)
	require.Empty(t, claims.Email)
}

func TestIssuePendingRequiresNonce(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	_, err := iss.IssuePending(42, "", time.Now())
	require.Error(t, err)
}

func TestKindSeparation(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Now()

	session, err := iss.IssueSession(jwtx.SessionIdentity{UserID: 1, Email: "a@x.com", Username: "a"}, now)
	require.NoError(t, err)
	pending, err := iss.IssuePending(1, "n", now)
	require.NoError(t, err)

	t.Run("pending token rejected where session expected", func(t *testing.T) {
		_, err := iss.VerifySession(pending)
		require.ErrorIs(t, err, jwtx.ErrWrongKind)
	})

	t.Run("session token rejected where pending expected", func(t *testing.T) {
		_, err := iss.VerifyPending(session)
		require.ErrorIs(t, err, jwtx.ErrWrongKind)
	})

	t.Run("VerifyAny accepts both", func(t *testing.T) {
		c, err := iss.VerifyAny(session)
		require.NoError(t, err)
		require.Equal(t, jwtx.KindSession, c.Kind)

		c, err = iss.VerifyAny(pending)
		require.NoError(t, err)
		require.Equal(t, jwtx.KindPending, c.Kind)
	})
}

func TestVerifyFailureModes(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(t)
	now := time.Now()

	t.Run("expired", func(t *testing.T) {
		token, err := iss.IssueSession(jwtx.SessionIdentity{UserID: 1}, now.Add(-2*time.Hour))
		require.NoError(t, err)

		_, err = iss.VerifySession(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("bad signature", func(t *testing.T) {
		other, err := jwtx.NewIssuer("another-signing-secret-0123456789abcdef", "test-auth", 0, 0)
		require.NoError(t, err)

		token, err := other.IssueSession(jwtx.SessionIdentity{UserID: 1}, now)
		require.NoError(t, err)

		_, err = iss.VerifySession(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("tampered payload", func(t *testing.T) {
		token, err := iss.IssueSession(jwtx.SessionIdentity{UserID: 1}, now)
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		parts[1] = "eyJhbGciOiJub25lIn0"

		_, err = iss.VerifySession(strings.Join(parts, "."))
		require.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := iss.VerifySession("not-a-jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := jwtx.NewIssuer(testSecret, "someone-else", 0, 0)
		require.NoError(t, err)

		token, err := other.IssueSession(jwtx.SessionIdentity{UserID: 1}, now)
		require.NoError(t, err)

		_, err = iss.VerifySession(token)
		require.Error(t, err)
	})
}

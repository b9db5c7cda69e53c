package service_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/domain"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/service"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store/drivers/sqlite"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/cryptox"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/guardx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/jwtx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/totpx"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "a@x.com"
	testUsername = "alice"
	testPassword = "P@ssw0rd!123"
)

// newTestService wires a full service over an in-memory store. The returned
// clock pointer steers every time-dependent operation in the service.
func newTestService(t *testing.T) (*service.AuthService, *time.Time) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	key, err := cryptox.GenerateKey()
	require.NoError(t, err)
	box, err := cryptox.NewSecretBox(key)
	require.NoError(t, err)

	issuer, err := jwtx.NewIssuer("test-signing-secret-0123456789abcdef", "authtest", time.Hour, 5*time.Minute)
	require.NoError(t, err)

	engine, err := totpx.New(totpx.Options{Issuer: "authtest"})
	require.NoError(t, err)

	// Token exp claims are checked against the wall clock by the JWT
	// library, so the test clock has to start at real now.
	now := time.Now().UTC()

	svc := &service.AuthService{
		Store:    st,
		Tokens:   issuer,
		Secrets:  box,
		TOTP:     engine,
		Guard:    guardx.NewMemoryGuard(guardx.DefaultWindow, guardx.SensitiveActions()),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		HashCost: 4, // bcrypt minimum, keeps the suite fast
		Now:      func() time.Time { return now },
	}
	return svc, &now
}

func register(t *testing.T, svc *service.AuthService) {
	t.Helper()
	_, err := svc.Register(context.Background(), testEmail, testUsername, testPassword)
	require.NoError(t, err)
}

// enrollTwoFactor runs register, setup2fa and the confirming verify2fa,
// returning the plaintext secret so tests can mint codes. Leaves the clock
// one step past the confirmation code's counter.
func enrollTwoFactor(t *testing.T, svc *service.AuthService, clock *time.Time) string {
	t.Helper()
	ctx := context.Background()

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)

	setup, err := svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)

	code, err := svc.TOTP.Code(setup.Secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, setup.PendingToken, code)
	require.NoError(t, err)

	*clock = clock.Add(svc.TOTP.Period())
	return setup.Secret
}

func TestRegisterIssuesSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	resp, err := svc.Register(context.Background(), "Alice@X.com", testUsername, testPassword)
	require.NoError(t, err)

	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := svc.Tokens.VerifySession(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice@x.com", claims.Email)
	require.Equal(t, testUsername, claims.Username)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name                      string
		email, username, password string
	}{
		{"bad email", "not-an-email", testUsername, testPassword},
		{"empty email", "", testUsername, testPassword},
		{"short username", testEmail, "ab", testPassword},
		{"username with spaces", testEmail, "al ice", testPassword},
		{"short password", testEmail, testUsername, "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.email, tc.username, tc.password)
			require.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestRegisterDuplicateAccount(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc)

	_, err := svc.Register(ctx, testEmail, "other", testPassword)
	require.ErrorIs(t, err, service.ErrDuplicateAccount, "duplicate email")

	_, err = svc.Register(ctx, "other@x.com", testUsername, testPassword)
	require.ErrorIs(t, err, service.ErrDuplicateAccount, "duplicate username")
}

func TestLoginPasswordOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc)

	t.Run("correct password", func(t *testing.T) {
		result, err := svc.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		require.Nil(t, result.Challenge)

		_, err = svc.Tokens.VerifySession(result.Session.AccessToken)
		require.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, testEmail, "WrongPassword!")
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("unknown account looks identical", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@x.com", testPassword)
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})
}

func TestTwoFactorLifecycle(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)

	setup, err := svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
	require.Contains(t, setup.ProvisioningURI, "authtest")

	// Enrollment does not enable anything until the first code verifies.
	user, err := svc.Store.Users().GetUserByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.False(t, user.TwoFactorEnabled)
	require.NotNil(t, user.TOTPSecretEncrypted)

	code, err := svc.TOTP.Code(setup.Secret, *clock)
	require.NoError(t, err)
	confirmed, err := svc.Verify2FA(ctx, setup.PendingToken, code)
	require.NoError(t, err)
	_, err = svc.Tokens.VerifySession(confirmed.AccessToken)
	require.NoError(t, err)

	user, err = svc.Store.Users().GetUserByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.True(t, user.TwoFactorEnabled)

	// Login now stops at the challenge: a password alone must never
	// produce a session on a 2FA account.
	result, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.Nil(t, result.Session)
	require.NotNil(t, result.Challenge)
	require.True(t, result.Challenge.TwoFactorRequired)
	require.NotEmpty(t, result.Challenge.PendingToken)

	// Finish with a code from the next time step.
	*clock = clock.Add(svc.TOTP.Period())
	code, err = svc.TOTP.Code(setup.Secret, *clock)
	require.NoError(t, err)
	final, err := svc.Verify2FA(ctx, result.Challenge.PendingToken, code)
	require.NoError(t, err)
	_, err = svc.Tokens.VerifySession(final.AccessToken)
	require.NoError(t, err)
}

func TestVerifyRejectsSessionToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)

	_, err = svc.Verify2FA(ctx, session.AccessToken, "123456")
	require.ErrorIs(t, err, service.ErrTokenKindMismatch)
}

func TestCodeReplayRejected(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()
	secret := enrollTwoFactor(t, svc, clock)

	result, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	code, err := svc.TOTP.Code(secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, result.Challenge.PendingToken, code)
	require.NoError(t, err)

	// Same code, fresh challenge, same time step: the counter watermark
	// already covers it, so this must fail exactly like a wrong code.
	result, err = svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, result.Challenge.PendingToken, code)
	require.ErrorIs(t, err, service.ErrInvalidTOTPCode)
}

func TestPendingTokenSingleUse(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()
	secret := enrollTwoFactor(t, svc, clock)

	result, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	code, err := svc.TOTP.Code(secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, result.Challenge.PendingToken, code)
	require.NoError(t, err)

	// The successful verify consumed the challenge, so the token is dead
	// even with a fresh, valid code.
	*clock = clock.Add(svc.TOTP.Period())
	code, err = svc.TOTP.Code(secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, result.Challenge.PendingToken, code)
	require.ErrorIs(t, err, service.ErrTokenInvalid)
}

func TestChallengeAttemptBudget(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()

	// Loosen the abuse guard so the per-challenge budget is what trips.
	svc.Guard = guardx.NewMemoryGuard(guardx.Window{Requests: 1000, Span: time.Minute}, nil)

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)
	setup, err := svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)

	code, err := svc.TOTP.Code(setup.Secret, *clock)
	require.NoError(t, err)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		_, err := svc.Verify2FA(ctx, setup.PendingToken, wrong)
		require.ErrorIs(t, err, service.ErrInvalidTOTPCode)
	}

	// Budget spent: the challenge is gone and even the right code fails.
	_, err = svc.Verify2FA(ctx, setup.PendingToken, code)
	require.ErrorIs(t, err, service.ErrTokenInvalid)

	// The dead enrollment must not leave its provisional secret behind.
	user, err := svc.Store.Users().GetUserByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.False(t, user.TwoFactorEnabled)
	require.Nil(t, user.TOTPSecretEncrypted)
}

func TestGuardLimitsFailedLogins(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc)

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, testEmail, "WrongPassword!")
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	}

	_, err := svc.Login(ctx, testEmail, "WrongPassword!")
	require.ErrorIs(t, err, service.ErrRateLimited)

	var limited *service.RateLimitedError
	require.ErrorAs(t, err, &limited)
	require.Positive(t, limited.RetryAfter)
}

func TestSetupSupersedesEarlierSetup(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)

	first, err := svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)
	second, err := svc.Setup2FA(ctx, first.PendingToken)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// The first enrollment can no longer be confirmed.
	code, err := svc.TOTP.Code(first.Secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, first.PendingToken, code)
	require.ErrorIs(t, err, service.ErrTokenInvalid)

	// The second one can.
	code, err = svc.TOTP.Code(second.Secret, *clock)
	require.NoError(t, err)
	_, err = svc.Verify2FA(ctx, second.PendingToken, code)
	require.NoError(t, err)

	user, err := svc.Store.Users().GetUserByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.True(t, user.TwoFactorEnabled)
}

func TestSetupRejectedWhenAlreadyEnabled(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()
	enrollTwoFactor(t, svc, clock)

	result, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	_, err = svc.Setup2FA(ctx, result.Challenge.PendingToken)
	require.ErrorIs(t, err, service.ErrTwoFactorEnabled)
}

func TestExpiredPendingToken(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()

	// Back-date the clock so the pending token is issued already past its
	// 5-minute lifetime, while the session token (1 hour) stays valid.
	*clock = clock.Add(-10 * time.Minute)

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)
	setup, err := svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)

	_, err = svc.Verify2FA(ctx, setup.PendingToken, "123456")
	require.ErrorIs(t, err, service.ErrTokenExpired)
}

func TestHousekeepingSweepsExpiredChallenges(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	userID, err := svc.Store.Users().CreateUser(ctx, domain.User{
		Email: testEmail, Username: testUsername, PasswordHash: "h",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Store.Challenges().CreateChallenge(ctx, domain.Challenge{
		ID:        "stale",
		UserID:    userID,
		Purpose:   domain.ChallengeLogin,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	hk := service.NewHousekeepingService(svc.Store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	hk.Sweep(ctx)

	_, err = svc.Store.Challenges().IncrementChallengeAttempts(ctx, "stale")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHousekeepingClearsAbandonedSetupSecret(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ctx := context.Background()

	// Back-date the clock so the setup challenge is already expired by wall
	// time; the session token (1 hour) is still good for Setup2FA.
	*clock = clock.Add(-10 * time.Minute)

	session, err := svc.Register(ctx, testEmail, testUsername, testPassword)
	require.NoError(t, err)
	_, err = svc.Setup2FA(ctx, session.AccessToken)
	require.NoError(t, err)

	// A second user mid-enrollment, with a live challenge.
	*clock = time.Now().UTC()
	other, err := svc.Register(ctx, "b@x.com", "bob", testPassword)
	require.NoError(t, err)
	_, err = svc.Setup2FA(ctx, other.AccessToken)
	require.NoError(t, err)

	hk := service.NewHousekeepingService(svc.Store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	hk.Sweep(ctx)

	// The abandoned enrollment's secret is gone along with its challenge.
	user, err := svc.Store.Users().GetUserByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.False(t, user.TwoFactorEnabled)
	require.Nil(t, user.TOTPSecretEncrypted)

	// The enrollment that can still finish keeps its secret.
	user, err = svc.Store.Users().GetUserByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	require.NotNil(t, user.TOTPSecretEncrypted)
}

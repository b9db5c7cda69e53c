// Package service implements the authentication state machine: register,
// password login, and the TOTP two-factor upgrade path. The service is
// stateless; everything durable lives behind the store, and each operation
// is one logical transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/domain"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/cryptox"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/guardx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/jwtx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/totpx"
)

// maxChallengeAttempts bounds code guesses per pending-2FA challenge. Once
// reached the challenge row is deleted and the pending token is dead.
const maxChallengeAttempts = 5

// dummyPasswordHash is compared against when a login targets an unknown
// email, so the response takes as long as a real password check and does not
// reveal whether the account exists.
const dummyPasswordHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// AuthService orchestrates the authentication flows. Collaborators are
// passed in explicitly; there is no container.
type AuthService struct {
	Store   store.Store
	Tokens  *jwtx.Issuer
	Secrets *cryptox.SecretBox
	TOTP    *totpx.Engine
	Guard   guardx.Guard
	Logger  *slog.Logger

	// HashCost is the bcrypt work factor. Zero means cryptox.DefaultHashCost.
	HashCost int

	// Skew is the TOTP counter tolerance on each side of the current step.
	Skew uint

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// LoginResult is the outcome of a password login: exactly one of Session or
// Challenge is set. Challenge means the password checked out but the account
// requires a TOTP code before any session exists.
type LoginResult struct {
	Session   *domain.SessionResponse
	Challenge *domain.TwoFactorChallengeResponse
}

// Register creates an account and signs the caller straight in. Two-factor
// starts disabled; enabling it is a separate, explicit flow.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (domain.SessionResponse, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return domain.SessionResponse{}, err
	}
	if err := validateUsername(username); err != nil {
		return domain.SessionResponse{}, err
	}
	if err := validatePassword(password); err != nil {
		return domain.SessionResponse{}, err
	}

	if err := s.checkGuard(ctx, guardx.ActionRegister, email); err != nil {
		return domain.SessionResponse{}, err
	}

	hash, err := cryptox.HashPassword(password, s.hashCost())
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}

	id, err := s.Store.Users().CreateUser(ctx, domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.SessionResponse{}, ErrDuplicateAccount
		}
		return domain.SessionResponse{}, fmt.Errorf("%w: create user: %v", ErrInternal, err)
	}

	s.logger().InfoContext(ctx, "user registered", "user_id", id, "username", username)

	return s.sessionResponse(domain.User{ID: id, Email: email, Username: username})
}

// Login verifies a password. Accounts without two-factor get a session
// immediately; accounts with it get a pending token and must finish with
// Verify2FA. No path through here issues a session to a 2FA account.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.checkGuard(ctx, guardx.ActionLogin, email); err != nil {
		return LoginResult{}, err
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same time a real check would.
			_ = cryptox.VerifyPassword(password, dummyPasswordHash)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("%w: fetch user: %v", ErrInternal, err)
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("%w: verify password: %v", ErrInternal, err)
	}

	if !user.TwoFactorEnabled {
		session, err := s.sessionResponse(user)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Session: &session}, nil
	}

	challenge, err := s.openChallenge(ctx, user.ID, domain.ChallengeLogin)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Challenge: &challenge}, nil
}

// Setup2FA starts two-factor enrollment. It accepts either token kind, since
// a user may enroll from a full session or mid-setup with a pending token.
// The plaintext secret and provisioning URI leave the service exactly once,
// right here; only the encrypted secret is stored, and the enabled flag
// stays off until the first code verifies.
func (s *AuthService) Setup2FA(ctx context.Context, token string) (domain.TwoFactorSetupResponse, error) {
	claims, err := s.Tokens.VerifyAny(token)
	if err != nil {
		return domain.TwoFactorSetupResponse{}, mapTokenError(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.TwoFactorSetupResponse{}, ErrTokenInvalid
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TwoFactorSetupResponse{}, ErrTokenInvalid
		}
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: fetch user: %v", ErrInternal, err)
	}
	if user.TwoFactorEnabled {
		return domain.TwoFactorSetupResponse{}, ErrTwoFactorEnabled
	}

	secret, err := s.TOTP.GenerateSecret()
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: generate secret: %v", ErrInternal, err)
	}
	uri, err := s.TOTP.ProvisioningURI(secret, user.Email)
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: provisioning uri: %v", ErrInternal, err)
	}
	encrypted, err := s.Secrets.Encrypt(secret)
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: encrypt secret: %v", ErrInternal, err)
	}

	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: generate nonce: %v", ErrInternal, err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateTOTPSecret(ctx, user.ID, &encrypted); err != nil {
			return fmt.Errorf("store secret: %w", err)
		}
		// A re-run setup invalidates any earlier setup challenge, so only
		// the freshest secret can ever be confirmed.
		if err := tx.Challenges().DeleteUserChallenges(ctx, user.ID, domain.ChallengeSetup); err != nil {
			return fmt.Errorf("invalidate earlier setups: %w", err)
		}
		return tx.Challenges().CreateChallenge(ctx, domain.Challenge{
			ID:        cryptox.FingerprintToken(nonce),
			UserID:    user.ID,
			Purpose:   domain.ChallengeSetup,
			ExpiresAt: now.Add(s.Tokens.PendingTTL()),
		})
	})
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	pending, err := s.Tokens.IssuePending(user.ID, nonce, now)
	if err != nil {
		return domain.TwoFactorSetupResponse{}, fmt.Errorf("%w: issue pending token: %v", ErrInternal, err)
	}

	s.logger().InfoContext(ctx, "two-factor setup started", "user_id", user.ID)

	return domain.TwoFactorSetupResponse{
		Secret:          secret,
		ProvisioningURI: uri,
		PendingToken:    pending,
	}, nil
}

// Verify2FA finishes a pending challenge with a TOTP code. On success the
// challenge is consumed, the counter watermark advances, setup challenges
// flip the enabled flag on, and a full session is issued. This is the only
// transition from a pending challenge to a session.
func (s *AuthService) Verify2FA(ctx context.Context, pendingToken, code string) (domain.SessionResponse, error) {
	claims, err := s.Tokens.VerifyPending(pendingToken)
	if err != nil {
		return domain.SessionResponse{}, mapTokenError(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.SessionResponse{}, ErrTokenInvalid
	}

	if err := s.checkGuard(ctx, guardx.ActionVerify2FA, strconv.FormatInt(userID, 10)); err != nil {
		return domain.SessionResponse{}, err
	}

	now := s.now()
	challengeID := cryptox.FingerprintToken(claims.Nonce)
	challenge, err := s.Store.Challenges().GetChallenge(ctx, challengeID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Consumed, superseded, or expired. All look the same.
			return domain.SessionResponse{}, ErrTokenInvalid
		}
		return domain.SessionResponse{}, fmt.Errorf("%w: fetch challenge: %v", ErrInternal, err)
	}
	if challenge.UserID != userID {
		return domain.SessionResponse{}, ErrTokenInvalid
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("%w: fetch user: %v", ErrInternal, err)
	}
	if user.TOTPSecretEncrypted == nil {
		return domain.SessionResponse{}, fmt.Errorf("%w: challenge without stored secret", ErrInternal)
	}

	secret, err := s.Secrets.Decrypt(*user.TOTPSecretEncrypted)
	if err != nil {
		// Integrity failure: the stored blob does not decrypt under the
		// configured key. Loud log, generic surface.
		s.logger().ErrorContext(ctx, "stored TOTP secret failed to decrypt",
			"user_id", userID, "error", err)
		return domain.SessionResponse{}, ErrInternal
	}

	counter, ok := s.TOTP.Verify(secret, code, now, s.skew())
	if !ok {
		return domain.SessionResponse{}, s.failAttempt(ctx, challengeID)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// The watermark compare-and-set is the replay defence: it only
		// advances, so a code accepted for this counter can never be
		// accepted again, including by a concurrent request.
		if err := tx.Users().UpdateLastAcceptedCounter(ctx, userID, counter); err != nil {
			return err
		}
		if challenge.Purpose == domain.ChallengeSetup {
			if err := tx.Users().SetTwoFactorEnabled(ctx, userID, true); err != nil {
				return err
			}
		}
		return tx.Challenges().DeleteChallenge(ctx, challengeID)
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleCounter) {
			return domain.SessionResponse{}, s.failAttempt(ctx, challengeID)
		}
		return domain.SessionResponse{}, fmt.Errorf("%w: commit verification: %v", ErrInternal, err)
	}

	s.logger().InfoContext(ctx, "two-factor verification succeeded",
		"user_id", userID, "purpose", challenge.Purpose)

	return s.sessionResponse(user)
}

// openChallenge replaces any live challenge of the same purpose with a fresh
// one and issues the matching pending token.
func (s *AuthService) openChallenge(ctx context.Context, userID int64, purpose domain.ChallengePurpose) (domain.TwoFactorChallengeResponse, error) {
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.TwoFactorChallengeResponse{}, fmt.Errorf("%w: generate nonce: %v", ErrInternal, err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().DeleteUserChallenges(ctx, userID, purpose); err != nil {
			return err
		}
		return tx.Challenges().CreateChallenge(ctx, domain.Challenge{
			ID:        cryptox.FingerprintToken(nonce),
			UserID:    userID,
			Purpose:   purpose,
			ExpiresAt: now.Add(s.Tokens.PendingTTL()),
		})
	})
	if err != nil {
		return domain.TwoFactorChallengeResponse{}, fmt.Errorf("%w: create challenge: %v", ErrInternal, err)
	}

	pending, err := s.Tokens.IssuePending(userID, nonce, now)
	if err != nil {
		return domain.TwoFactorChallengeResponse{}, fmt.Errorf("%w: issue pending token: %v", ErrInternal, err)
	}

	return domain.TwoFactorChallengeResponse{
		TwoFactorRequired: true,
		PendingToken:      pending,
		ExpiresIn:         int64(s.Tokens.PendingTTL().Seconds()),
	}, nil
}

// failAttempt charges a failed code against the challenge budget, deleting
// the challenge once the budget is spent. An exhausted setup challenge also
// drops the provisional secret, since nothing can confirm it anymore and a
// disabled account must not keep one stored.
func (s *AuthService) failAttempt(ctx context.Context, challengeID string) error {
	updated, err := s.Store.Challenges().IncrementChallengeAttempts(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Raced with its own consumption or expiry sweep.
			return ErrInvalidTOTPCode
		}
		return fmt.Errorf("%w: record failed attempt: %v", ErrInternal, err)
	}

	if updated.Attempts >= maxChallengeAttempts {
		err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Challenges().DeleteChallenge(ctx, challengeID); err != nil {
				return err
			}
			if updated.Purpose == domain.ChallengeSetup {
				return tx.Users().UpdateTOTPSecret(ctx, updated.UserID, nil)
			}
			return nil
		})
		if err != nil {
			s.logger().ErrorContext(ctx, "failed to invalidate exhausted challenge",
				"challenge_id", challengeID, "error", err)
		} else {
			s.logger().WarnContext(ctx, "challenge invalidated after repeated failures",
				"user_id", updated.UserID, "purpose", updated.Purpose, "attempts", updated.Attempts)
		}
	}

	return ErrInvalidTOTPCode
}

func (s *AuthService) sessionResponse(user domain.User) (domain.SessionResponse, error) {
	token, err := s.Tokens.IssueSession(jwtx.SessionIdentity{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
	}, s.now())
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("%w: issue session token: %v", ErrInternal, err)
	}

	return domain.SessionResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.Tokens.SessionTTL().Seconds()),
	}, nil
}

// checkGuard consults the abuse guard. A guard backend failure is terminal
// for the call rather than a pass.
func (s *AuthService) checkGuard(ctx context.Context, action, key string) error {
	decision, err := s.Guard.CheckAndRecord(ctx, action, key)
	if err != nil {
		return fmt.Errorf("%w: abuse guard: %v", ErrInternal, err)
	}
	if !decision.Allowed {
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwtx.ErrWrongKind):
		return ErrTokenKindMismatch
	default:
		return ErrTokenInvalid
	}
}

func (s *AuthService) hashCost() int {
	if s.HashCost > 0 {
		return s.HashCost
	}
	return cryptox.DefaultHashCost
}

func (s *AuthService) skew() uint {
	if s.Skew > 0 {
		return s.Skew
	}
	return totpx.DefaultSkew
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

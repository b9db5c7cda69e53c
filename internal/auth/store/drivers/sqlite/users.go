package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/domain"
	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, username, password_hash, totp_secret_encrypted,
	two_factor_enabled, last_accepted_counter, created_at, updated_at`

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) (int64, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (email, username, password_hash, totp_secret_encrypted,
			two_factor_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(u.Email), u.Username, u.PasswordHash,
		nullableString(u.TOTPSecretEncrypted), u.TwoFactorEnabled, now, now,
	)
	if err != nil {
		return 0, mapConflict(err)
	}

	return res.LastInsertId()
}

func (r *usersRepo) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return scanUser(row)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *usersRepo) UpdateTOTPSecret(ctx context.Context, userID int64, encrypted *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET totp_secret_encrypted = ?, updated_at = ? WHERE id = ?`,
		nullableString(encrypted), time.Now().UTC(), userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) SetTwoFactorEnabled(ctx context.Context, userID int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET two_factor_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) ClearAbandonedTOTPSecrets(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET totp_secret_encrypted = NULL, updated_at = ?
		WHERE two_factor_enabled = 0
		  AND totp_secret_encrypted IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM two_factor_challenges c
			WHERE c.user_id = users.id AND c.purpose = ? AND c.expires_at > ?)`,
		time.Now().UTC(), string(domain.ChallengeSetup), now.UTC(),
	)
	return err
}

func (r *usersRepo) UpdateLastAcceptedCounter(ctx context.Context, userID int64, counter int64) error {
	// Compare-and-set: only ever advance the watermark. Losing this race
	// means the same counter was already consumed.
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_accepted_counter = ?, updated_at = ?
		WHERE id = ? AND (last_accepted_counter IS NULL OR last_accepted_counter < ?)`,
		counter, time.Now().UTC(), userID, counter,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrStaleCounter
	}
	return nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u       domain.User
		secret  sql.NullString
		counter sql.NullInt64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &secret,
		&u.TwoFactorEnabled, &counter, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	if secret.Valid {
		val := secret.String
		u.TOTPSecretEncrypted = &val
	}
	if counter.Valid {
		val := counter.Int64
		u.LastAcceptedCounter = &val
	}
	return u, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

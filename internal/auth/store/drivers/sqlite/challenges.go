package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/domain"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, user_id, purpose, attempts, created_at, expires_at`

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_challenges (id, user_id, purpose, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Purpose), c.Attempts, createdAt, c.ExpiresAt.UTC(),
	)
	return mapConflict(err)
}

func (r *challengesRepo) GetChallenge(ctx context.Context, id string, now time.Time) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM two_factor_challenges
		 WHERE id = ? AND expires_at > ?`, id, now.UTC())
	return scanChallenge(row)
}

func (r *challengesRepo) IncrementChallengeAttempts(ctx context.Context, id string) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE two_factor_challenges SET attempts = attempts + 1
		WHERE id = ?
		RETURNING `+challengeColumns,
		id,
	)
	return scanChallenge(row)
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) DeleteUserChallenges(ctx context.Context, userID int64, purpose domain.ChallengePurpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE user_id = ? AND purpose = ?`,
		userID, string(purpose))
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE expires_at <= ?`, now.UTC())
	return err
}

func scanChallenge(row *sql.Row) (domain.Challenge, error) {
	var (
		c       domain.Challenge
		purpose string
	)
	err := row.Scan(&c.ID, &c.UserID, &purpose, &c.Attempts, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.Purpose = domain.ChallengePurpose(purpose)
	return c, nil
}

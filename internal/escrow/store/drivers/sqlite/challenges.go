package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, nonce, address, message, issued_at, expires_at, consumed_at`

func scanChallenge(row interface{ Scan(...any) error }) (domain.AuthChallenge, error) {
	var (
		c        domain.AuthChallenge
		consumed sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Nonce, &c.Address, &c.Message, &c.IssuedAt, &c.ExpiresAt, &consumed)
	if err != nil {
		return domain.AuthChallenge{}, mapNotFound(err)
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.ConsumedAt = mapNullTimePtr(consumed)
	return c, nil
}

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.AuthChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_challenges (id, nonce, address, message, issued_at, expires_at, consumed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Nonce,
		strings.ToLower(c.Address),
		c.Message,
		c.IssuedAt.UTC(),
		c.ExpiresAt.UTC(),
		mapOptionalTime(c.ConsumedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *challengesRepo) GetChallengeByMessage(ctx context.Context, address, message string) (domain.AuthChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM auth_challenges WHERE address = ? AND message = ?`,
		strings.ToLower(address), message)
	return scanChallenge(row)
}

// ConsumeChallenge marks a challenge as used. The WHERE clause guards both
// replay (consumed_at must still be NULL) and expiry, so two concurrent
// verifications race on a single row update and exactly one wins.
func (r *challengesRepo) ConsumeChallenge(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auth_challenges SET consumed_at = ?
		 WHERE id = ? AND consumed_at IS NULL AND expires_at > ?`,
		now.UTC(), id, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_challenges WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, wallet_address, email, role, deactivated_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u             domain.User
		wallet, email sql.NullString
		deactivated   sql.NullTime
		role          string
	)
	err := row.Scan(&u.ID, &wallet, &email, &role, &deactivated, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.WalletAddress = mapNullStringPtr(wallet)
	u.Email = mapNullStringPtr(email)
	u.Role = domain.Role(role)
	u.DeactivatedAt = mapNullTimePtr(deactivated)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByWallet(ctx context.Context, address string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = ?`,
		strings.ToLower(address))
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	wallet := u.WalletAddress
	if wallet != nil {
		lowered := strings.ToLower(*wallet)
		wallet = &lowered
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, wallet_address, email, role, deactivated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		mapOptionalString(wallet),
		mapOptionalString(u.Email),
		string(u.Role),
		mapOptionalTime(u.DeactivatedAt),
		u.CreatedAt.UTC(),
		u.UpdatedAt.UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) DeactivateUser(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET deactivated_at = ?, updated_at = ? WHERE id = ? AND deactivated_at IS NULL`,
		now.UTC(), now.UTC(), id)
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

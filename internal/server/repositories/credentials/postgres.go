package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	query :=
		`SELECT id, username, salt, password_hash, role, failed_count,
		        last_login_at, last_logout_at, last_failed_at, is_active, created_at
		 FROM accounts
		 WHERE username = $1
		 `

	account := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&account.ID, &account.Username, &account.Salt, &account.PasswordHash,
		&account.Role, &account.FailedCount,
		&account.LastLoginAt, &account.LastLogoutAt, &account.LastFailedAt,
		&account.IsActive, &account.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, account *models.Account) (int64, error) {
	query :=
		`INSERT INTO accounts (username, salt, password_hash, role, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id
		 `

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		account.Username, account.Salt, account.PasswordHash, account.Role, account.IsActive).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return id, nil
}

func (r *PostgresRepository) IncrementFailed(ctx context.Context, id int64, now time.Time) (int64, error) {
	query :=
		`UPDATE accounts
		 SET failed_count = failed_count + 1, last_failed_at = $2
		 WHERE id = $1
		 `

	return r.exec(ctx, query, id, now)
}

func (r *PostgresRepository) ResetFailedAndStampLogin(ctx context.Context, id int64, now time.Time) (int64, error) {
	query :=
		`UPDATE accounts
		 SET failed_count = 0, last_failed_at = NULL, last_login_at = $2
		 WHERE id = $1
		 `

	return r.exec(ctx, query, id, now)
}

func (r *PostgresRepository) StampLogout(ctx context.Context, username string, now time.Time) (int64, error) {
	query :=
		`UPDATE accounts
		 SET is_active = FALSE, last_logout_at = $2
		 WHERE username = $1
		 `

	return r.exec(ctx, query, username, now)
}

func (r *PostgresRepository) UpdatePasswordIfMatches(ctx context.Context, id int64, expectedOldHash, newSalt, newHash []byte) (int64, error) {
	// Optimistic: the WHERE clause pins the hash this change was computed
	// against, so a concurrent password change yields zero rows.
	query :=
		`UPDATE accounts
		 SET salt = $3, password_hash = $4
		 WHERE id = $1 AND password_hash = $2
		 `

	return r.exec(ctx, query, id, expectedOldHash, newSalt, newHash)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return affected, nil
}

// Package credentials is the store adapter for account credential records.
// Reads are minimal projections; mutations are single-statement atomic
// updates so concurrent logins against the same account never lose a
// counter update.
package credentials

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type Repository interface {
	// FindByUsername loads the columns the authentication decisions need.
	// Returns common.ErrorNotFound when the username is unknown.
	FindByUsername(ctx context.Context, username string) (*models.Account, error)

	// ExistsByUsername reports whether a record with the username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// Insert persists a new record and returns its id.
	Insert(ctx context.Context, account *models.Account) (int64, error)

	// IncrementFailed bumps the failed-login counter and stamps the
	// failure time in one atomic statement.
	IncrementFailed(ctx context.Context, id int64, now time.Time) (int64, error)

	// ResetFailedAndStampLogin zeroes the failed counter, clears the
	// failure timestamp, and stamps the login time atomically.
	ResetFailedAndStampLogin(ctx context.Context, id int64, now time.Time) (int64, error)

	// StampLogout marks the record inactive and stamps the logout time.
	StampLogout(ctx context.Context, username string, now time.Time) (int64, error)

	// UpdatePasswordIfMatches swaps in a new salt and hash only while the
	// stored hash still equals expectedOldHash. Zero affected rows means a
	// concurrent modification; the caller must treat that as a failure.
	UpdatePasswordIfMatches(ctx context.Context, id int64, expectedOldHash, newSalt, newHash []byte) (int64, error)
}

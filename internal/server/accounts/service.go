// Package accounts implements the account authentication state machine:
// register, login, logout, and change-password transitions, the lockout
// policy, and the binding of connections to account identities.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

const minPasswordLength = 8

// Service drives the credential store and the session registry. The now
// func is injectable so lockout-window tests can move time.
type Service struct {
	db               *sql.DB
	rm               repomanager.RepositoryManager
	sessions         *conn.Registry
	logger           logging.Logger
	lockoutThreshold int
	lockoutWindow    time.Duration
	now              func() time.Time
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, sessions *conn.Registry, logger logging.Logger, lockoutThreshold int, lockoutWindow time.Duration) *Service {
	return &Service{
		db:               db,
		rm:               rm,
		sessions:         sessions,
		logger:           logger.With("module", "accounts"),
		lockoutThreshold: lockoutThreshold,
		lockoutWindow:    lockoutWindow,
		now:              time.Now,
	}
}

func (s *Service) repo() credentials.Repository {
	return s.rm.Credentials(s.db)
}

// Register creates a new active account with a fresh salt and argon2id hash.
// The uniqueness check and the insert run in one transaction so two racing
// registrations cannot both pass the check.
func (s *Service) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", common.ErrorInvalidPayload)
	}

	salt := cryptox.NewSalt()
	account := &models.Account{
		Username:     username,
		Salt:         salt,
		PasswordHash: cryptox.HashPassword(password, salt),
		Role:         uint8(conn.PermissionUser),
		IsActive:     true,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Credentials(tx)

		exists, err := repo.ExistsByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		if exists {
			return fmt.Errorf("%w: username %q", common.ErrorAlreadyExists, username)
		}

		if _, err := repo.Insert(ctx, account); err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "account registered", "username", username)
	return nil
}

// Login verifies credentials, enforces the lockout window, and on success
// binds the connection to the account identity in the session registry.
func (s *Service) Login(ctx context.Context, c *conn.Connection, username, password string) error {
	account, err := s.repo().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "login for unknown username", "username", username, "remote", c.RemoteAddr())
			return common.ErrorInvalidCredentials
		}
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	now := s.now()
	if s.lockedOut(account, now) {
		s.logger.Warn(ctx, "login while locked out", "username", username, "remote", c.RemoteAddr(),
			"failed_count", account.FailedCount)
		return common.ErrorLocked
	}

	if !cryptox.VerifyPassword(password, account.Salt, account.PasswordHash) {
		// Counter and timestamp move together in one atomic statement.
		if _, err := s.repo().IncrementFailed(ctx, account.ID, now); err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		s.logger.Warn(ctx, "wrong password", "username", username, "remote", c.RemoteAddr(),
			"failed_count", account.FailedCount+1)
		return common.ErrorInvalidCredentials
	}

	if !account.IsActive {
		s.logger.Warn(ctx, "login for disabled account", "username", username, "remote", c.RemoteAddr())
		return common.ErrorDisabled
	}

	// If the dispatcher has already answered this request, the connection
	// may be serving another one; mutating it now would corrupt that
	// session.
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", common.ErrorTimeout, ctx.Err())
	}

	if _, err := s.repo().ResetFailedAndStampLogin(ctx, account.ID, now); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	c.SetPermission(conn.PermissionLevel(account.Role))
	c.BindUser(username)
	s.sessions.Register(username, c)

	s.logger.Info(ctx, "login", "username", username, "remote", c.RemoteAddr())
	return nil
}

// Logout tears down the session binding, stamps the record, and flags the
// connection for close once the response has been flushed.
func (s *Service) Logout(ctx context.Context, c *conn.Connection) error {
	username := c.Username()
	if username == "" {
		return fmt.Errorf("%w: no account bound to connection", common.ErrorInvalidSession)
	}

	// Same guard as login: never tear down a connection whose request has
	// already been answered with a timeout.
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", common.ErrorTimeout, ctx.Err())
	}

	if _, err := s.repo().StampLogout(ctx, username, s.now()); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	s.sessions.Unregister(username, c)
	c.UnbindUser()
	c.SetPermission(conn.PermissionGuest)
	c.MarkClosed()

	s.logger.Info(ctx, "logout", "username", username, "remote", c.RemoteAddr())
	return nil
}

// ChangePassword verifies the current password and swaps in a new salt and
// hash. A concurrent modification (zero affected rows) is a failure, never
// a silent retry with stale data.
func (s *Service) ChangePassword(ctx context.Context, c *conn.Connection, current, next string) error {
	username := c.Username()
	if username == "" {
		return fmt.Errorf("%w: no account bound to connection", common.ErrorInvalidSession)
	}

	account, err := s.repo().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorInvalidSession
		}
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	if !account.IsActive {
		return common.ErrorDisabled
	}

	if !cryptox.VerifyPassword(current, account.Salt, account.PasswordHash) {
		s.logger.Warn(ctx, "change-password with wrong current password", "username", username, "remote", c.RemoteAddr())
		return common.ErrorInvalidCredentials
	}

	if err := checkPasswordStrength(next); err != nil {
		return err
	}

	newSalt := cryptox.NewSalt()
	newHash := cryptox.HashPassword(next, newSalt)

	affected, err := s.repo().UpdatePasswordIfMatches(ctx, account.ID, account.PasswordHash, newSalt, newHash)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: password changed concurrently", common.ErrorInternal)
	}

	s.logger.Info(ctx, "password changed", "username", username)
	return nil
}

// lockedOut reports whether the account is inside its lockout window.
func (s *Service) lockedOut(account *models.Account, now time.Time) bool {
	if account.FailedCount < s.lockoutThreshold || account.LastFailedAt == nil {
		return false
	}
	return now.Sub(*account.LastFailedAt) < s.lockoutWindow
}

func checkPasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: shorter than %d characters", common.ErrorPasswordTooWeak, minPasswordLength)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: needs both a letter and a digit", common.ErrorPasswordTooWeak)
	}

	return nil
}

package accounts

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// --- fake repository ---

type fakeRepo struct {
	byUsername map[string]*models.Account
	nextID     int64

	// beforeUpdate runs inside UpdatePasswordIfMatches, to simulate a
	// concurrent writer between the read and the optimistic update.
	beforeUpdate func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byUsername: make(map[string]*models.Account), nextID: 1}
}

func (f *fakeRepo) FindByUsername(_ context.Context, username string) (*models.Account, error) {
	a, ok := f.byUsername[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	_, ok := f.byUsername[username]
	return ok, nil
}

func (f *fakeRepo) Insert(_ context.Context, account *models.Account) (int64, error) {
	cp := *account
	cp.ID = f.nextID
	f.nextID++
	cp.CreatedAt = time.Now()
	f.byUsername[cp.Username] = &cp
	return cp.ID, nil
}

func (f *fakeRepo) find(id int64) *models.Account {
	for _, a := range f.byUsername {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeRepo) IncrementFailed(_ context.Context, id int64, now time.Time) (int64, error) {
	a := f.find(id)
	if a == nil {
		return 0, nil
	}
	a.FailedCount++
	t := now
	a.LastFailedAt = &t
	return 1, nil
}

func (f *fakeRepo) ResetFailedAndStampLogin(_ context.Context, id int64, now time.Time) (int64, error) {
	a := f.find(id)
	if a == nil {
		return 0, nil
	}
	a.FailedCount = 0
	a.LastFailedAt = nil
	t := now
	a.LastLoginAt = &t
	return 1, nil
}

func (f *fakeRepo) StampLogout(_ context.Context, username string, now time.Time) (int64, error) {
	a, ok := f.byUsername[username]
	if !ok {
		return 0, nil
	}
	a.IsActive = false
	t := now
	a.LastLogoutAt = &t
	return 1, nil
}

func (f *fakeRepo) UpdatePasswordIfMatches(_ context.Context, id int64, expectedOldHash, newSalt, newHash []byte) (int64, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	a := f.find(id)
	if a == nil || string(a.PasswordHash) != string(expectedOldHash) {
		return 0, nil
	}
	a.Salt = newSalt
	a.PasswordHash = newHash
	return 1, nil
}

// fakeManager hands out the in-memory repo regardless of the handle, so
// transactional and plain calls land in the same store.
type fakeManager struct {
	repo *fakeRepo
}

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeManager) Credentials(dbx.DBTX) credentials.Repository { return m.repo }

// --- helpers ---

func newTestService(t *testing.T) (*Service, *fakeRepo, *conn.Registry, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := newFakeRepo()
	sessions := conn.NewRegistry()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewService(db, &fakeManager{repo: repo}, sessions, logger, 5, 15*time.Minute)
	return svc, repo, sessions, mock
}

// register opens a transaction, so each call needs a begin/commit pair on
// the mock (or begin/rollback when the insert is refused).
func expectTxCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func expectTxRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

func newTestConn() *conn.Connection {
	c := conn.New("127.0.0.1:7000", rate.NewLimiter(rate.Inf, 1))
	c.SetPermission(conn.PermissionGuest)
	return c
}

func register(t *testing.T, svc *Service, mock sqlmock.Sqlmock) {
	t.Helper()
	expectTxCommit(mock)
	require.NoError(t, svc.Register(context.Background(), "alice", "Passw0rd"))
}

// --- register ---

func TestRegister_OK(t *testing.T) {
	svc, repo, _, mock := newTestService(t)

	register(t, svc, mock)

	a := repo.byUsername["alice"]
	require.NotNil(t, a)
	assert.True(t, a.IsActive)
	assert.NotEmpty(t, a.Salt)
	assert.True(t, cryptox.VerifyPassword("Passw0rd", a.Salt, a.PasswordHash))
	assert.Equal(t, uint8(conn.PermissionUser), a.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_EmptyPayload(t *testing.T) {
	svc, _, _, mock := newTestService(t)

	// Payload validation fails before any transaction is opened.
	assert.ErrorIs(t, svc.Register(context.Background(), "", "Passw0rd"), common.ErrorInvalidPayload)
	assert.ErrorIs(t, svc.Register(context.Background(), "alice", ""), common.ErrorInvalidPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Duplicate(t *testing.T) {
	svc, repo, _, mock := newTestService(t)

	register(t, svc, mock)
	first := repo.byUsername["alice"].PasswordHash

	expectTxRollback(mock)
	err := svc.Register(context.Background(), "alice", "0therPwd")
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	// No duplicate row, no overwrite.
	assert.Equal(t, first, repo.byUsername["alice"].PasswordHash)
	assert.Len(t, repo.byUsername, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- login ---

func TestLogin_UnknownUsername(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Login(context.Background(), newTestConn(), "ghost", "whatever1")
	assert.ErrorIs(t, err, common.ErrorInvalidCredentials)
}

func TestLogin_Success_BindsSession(t *testing.T) {
	svc, repo, sessions, mock := newTestService(t)
	register(t, svc, mock)

	c := newTestConn()
	require.NoError(t, svc.Login(context.Background(), c, "alice", "Passw0rd"))

	assert.Equal(t, conn.PermissionUser, c.Permission())
	assert.Equal(t, "alice", c.Username())

	bound, ok := sessions.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, c, bound)

	assert.NotNil(t, repo.byUsername["alice"].LastLoginAt)
}

func TestLogin_WrongPassword_IncrementsCounter(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)

	err := svc.Login(context.Background(), newTestConn(), "alice", "wrong111")
	assert.ErrorIs(t, err, common.ErrorInvalidCredentials)

	a := repo.byUsername["alice"]
	assert.Equal(t, 1, a.FailedCount)
	assert.NotNil(t, a.LastFailedAt)
}

func TestLogin_Disabled(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)
	repo.byUsername["alice"].IsActive = false

	err := svc.Login(context.Background(), newTestConn(), "alice", "Passw0rd")
	assert.ErrorIs(t, err, common.ErrorDisabled)
}

// TestLogin_LockoutScenario walks the full lockout sequence: five wrong
// passwords, then a correct one inside the window is still locked, then the
// window elapses and login succeeds with a reset counter.
func TestLogin_LockoutScenario(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		err := svc.Login(context.Background(), newTestConn(), "alice", "wrong111")
		assert.ErrorIs(t, err, common.ErrorInvalidCredentials, "attempt %d", i+1)
	}
	assert.Equal(t, 5, repo.byUsername["alice"].FailedCount)

	// Sixth attempt is rejected regardless of correctness.
	err := svc.Login(context.Background(), newTestConn(), "alice", "Passw0rd")
	assert.ErrorIs(t, err, common.ErrorLocked)
	err = svc.Login(context.Background(), newTestConn(), "alice", "wrong111")
	assert.ErrorIs(t, err, common.ErrorLocked)

	// After the window elapses, the correct password works again.
	svc.now = func() time.Time { return base.Add(15*time.Minute + time.Second) }

	c := newTestConn()
	require.NoError(t, svc.Login(context.Background(), c, "alice", "Passw0rd"))
	assert.Equal(t, 0, repo.byUsername["alice"].FailedCount)
	assert.Nil(t, repo.byUsername["alice"].LastFailedAt)
}

// TestLogin_CancelledContextDoesNotBindSession: once the dispatcher has
// given up on a request its context is cancelled; a login that completes
// after that point must not mutate the connection or the registry.
func TestLogin_CancelledContextDoesNotBindSession(t *testing.T) {
	svc, repo, sessions, mock := newTestService(t)
	register(t, svc, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestConn()
	err := svc.Login(ctx, c, "alice", "Passw0rd")
	assert.ErrorIs(t, err, common.ErrorTimeout)

	assert.Equal(t, conn.PermissionGuest, c.Permission())
	assert.Empty(t, c.Username())
	_, ok := sessions.Lookup("alice")
	assert.False(t, ok)
	assert.Nil(t, repo.byUsername["alice"].LastLoginAt)
}

// --- logout ---

func TestLogout_NoSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Logout(context.Background(), newTestConn())
	assert.ErrorIs(t, err, common.ErrorInvalidSession)
}

func TestLogout_TearsDownSession(t *testing.T) {
	svc, repo, sessions, mock := newTestService(t)
	register(t, svc, mock)

	c := newTestConn()
	require.NoError(t, svc.Login(context.Background(), c, "alice", "Passw0rd"))
	require.NoError(t, svc.Logout(context.Background(), c))

	assert.Equal(t, conn.PermissionGuest, c.Permission())
	assert.Empty(t, c.Username())
	assert.False(t, c.Alive())

	_, ok := sessions.Lookup("alice")
	assert.False(t, ok)

	a := repo.byUsername["alice"]
	assert.False(t, a.IsActive)
	assert.NotNil(t, a.LastLogoutAt)
}

func TestLogout_CancelledContextLeavesSession(t *testing.T) {
	svc, repo, sessions, mock := newTestService(t)
	register(t, svc, mock)

	c := newTestConn()
	require.NoError(t, svc.Login(context.Background(), c, "alice", "Passw0rd"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Logout(ctx, c)
	assert.ErrorIs(t, err, common.ErrorTimeout)

	assert.True(t, c.Alive())
	assert.Equal(t, "alice", c.Username())
	_, ok := sessions.Lookup("alice")
	assert.True(t, ok)
	assert.True(t, repo.byUsername["alice"].IsActive)
}

// --- change password ---

func loggedInConn(t *testing.T, svc *Service) *conn.Connection {
	t.Helper()
	c := newTestConn()
	require.NoError(t, svc.Login(context.Background(), c, "alice", "Passw0rd"))
	return c
}

func TestChangePassword_NoSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.ChangePassword(context.Background(), newTestConn(), "Passw0rd", "NewPass99")
	assert.ErrorIs(t, err, common.ErrorInvalidSession)
}

func TestChangePassword_WrongCurrent_LeavesHashAlone(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)
	c := loggedInConn(t, svc)

	before := repo.byUsername["alice"].PasswordHash

	err := svc.ChangePassword(context.Background(), c, "wrong111", "NewPass99")
	assert.ErrorIs(t, err, common.ErrorInvalidCredentials)
	assert.Equal(t, before, repo.byUsername["alice"].PasswordHash)
}

func TestChangePassword_WeakPasswords(t *testing.T) {
	svc, _, _, mock := newTestService(t)
	register(t, svc, mock)
	c := loggedInConn(t, svc)

	tests := []struct {
		name string
		next string
	}{
		{"too short", "Ab1"},
		{"letters only", "abcdefgh"},
		{"digits only", "12345678"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ChangePassword(context.Background(), c, "Passw0rd", tc.next)
			assert.ErrorIs(t, err, common.ErrorPasswordTooWeak)
		})
	}
}

func TestChangePassword_Success(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)
	c := loggedInConn(t, svc)

	require.NoError(t, svc.ChangePassword(context.Background(), c, "Passw0rd", "NewPass99"))

	a := repo.byUsername["alice"]
	assert.True(t, cryptox.VerifyPassword("NewPass99", a.Salt, a.PasswordHash))
	assert.False(t, cryptox.VerifyPassword("Passw0rd", a.Salt, a.PasswordHash))
}

func TestChangePassword_ConcurrentModification(t *testing.T) {
	svc, repo, _, mock := newTestService(t)
	register(t, svc, mock)
	c := loggedInConn(t, svc)

	// Another writer swaps the hash between the read and the update.
	repo.beforeUpdate = func() {
		repo.byUsername["alice"].PasswordHash = []byte("someone else's hash")
	}

	err := svc.ChangePassword(context.Background(), c, "Passw0rd", "NewPass99")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

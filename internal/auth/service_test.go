package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stocklane/stocklane/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	byEmail  map[string]Account
	logins   []string
	logouts  []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byEmail: make(map[string]Account)}
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (Account, error) {
	a, ok := r.byEmail[email]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id int64) (Account, error) {
	for _, a := range r.byEmail {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, shared.ErrNotFound
}

func (r *memoryRepo) CreateAccount(ctx context.Context, a Account) (int64, error) {
	if _, ok := r.byEmail[a.Email]; ok {
		return 0, ErrEmailTaken
	}
	r.nextID++
	a.ID = r.nextID
	r.byEmail[a.Email] = a
	return a.ID, nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	for email, a := range r.byEmail {
		if a.ID == id {
			a.IsActive = active
			r.byEmail[email] = a
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) RecordLogin(ctx context.Context, token string, accountID int64, expiresAt time.Time, ip, ua string) error {
	r.logins = append(r.logins, token)
	return nil
}

func (r *memoryRepo) RecordLogout(ctx context.Context, token string) error {
	r.logouts = append(r.logouts, token)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, time.Hour)
	repo := newMemoryRepo()
	return NewService(repo, sessions, nil), repo, sessions
}

func seedAccount(t *testing.T, repo *memoryRepo, email, password string, active bool) Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	a := Account{Email: email, Name: "Tester", Role: RoleStaff, PasswordHash: string(hash), IsActive: active}
	id, err := repo.CreateAccount(context.Background(), a)
	require.NoError(t, err)
	a.ID = id
	repo.byEmail[email] = a
	return a
}

func TestLoginIssuesResolvableSession(t *testing.T) {
	svc, repo, sessions := newTestService(t)
	seedAccount(t, repo, "staff@example.com", "hunter2hunter2", true)
	ctx := context.Background()

	sess, account, err := svc.Login(ctx, "staff@example.com", "hunter2hunter2", "127.0.0.1", "go-test")
	require.NoError(t, err)
	require.Equal(t, "staff@example.com", account.Email)
	require.NotEmpty(t, sess.Token)
	require.Equal(t, []string{sess.Token}, repo.logins)

	resolved, err := sessions.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, account.ID, resolved.AccountID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedAccount(t, repo, "staff@example.com", "hunter2hunter2", true)

	_, _, err := svc.Login(context.Background(), "staff@example.com", "wrong-password", "", "")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, _, err = svc.Login(context.Background(), "nobody@example.com", "whatever-pass", "", "")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedAccount(t, repo, "gone@example.com", "hunter2hunter2", false)

	_, _, err := svc.Login(context.Background(), "gone@example.com", "hunter2hunter2", "", "")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, repo, sessions := newTestService(t)
	seedAccount(t, repo, "staff@example.com", "hunter2hunter2", true)
	ctx := context.Background()

	sess, _, err := svc.Login(ctx, "staff@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.Token))
	_, err = sessions.Resolve(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	require.Equal(t, []string{sess.Token}, repo.logouts)
}

func TestCreateAccountHashesPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	account, err := svc.CreateAccount(context.Background(), "new@example.com", "New Staff", RoleStaff, "hunter2hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2hunter2", account.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("hunter2hunter2")))
}

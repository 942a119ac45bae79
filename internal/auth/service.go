package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stocklane/stocklane/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     RepositoryPort
	sessions *shared.SessionManager
	logger   *slog.Logger
}

func NewService(repo RepositoryPort, sessions *shared.SessionManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Login validates credentials and issues a bearer token. The session row
// in postgres is advisory only; Redis is the source of liveness.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (*shared.Session, Account, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		// Burn a comparison so missing and wrong-password take similar time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return nil, Account{}, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, Account{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, Account{}, shared.ErrInvalidCredentials
	}

	sess, err := s.sessions.Issue(ctx, account.ID, account.Email)
	if err != nil {
		return nil, Account{}, fmt.Errorf("auth: issue session: %w", err)
	}
	expiresAt := time.Now().Add(s.sessions.TTL())
	if err := s.repo.RecordLogin(ctx, sess.Token, account.ID, expiresAt, ip, ua); err != nil {
		s.logger.Warn("record login", slog.Int64("account_id", account.ID), slog.Any("error", err))
	}
	return sess, account, nil
}

// Logout revokes the bearer token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	if err := s.repo.RecordLogout(ctx, token); err != nil {
		s.logger.Warn("record logout", slog.Any("error", err))
	}
	return nil
}

// CreateAccount registers a new staff account with a bcrypt-hashed
// password.
func (s *Service) CreateAccount(ctx context.Context, email, name, role, password string) (Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("auth: hash password: %w", err)
	}
	account := Account{
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	id, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}
	account.ID = id
	return account, nil
}

// Deactivate locks an account. Existing sessions expire on their own.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

// Account loads the account behind a session.
func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

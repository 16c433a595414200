package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"signflow/outbox"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrAccountLocked signals too many failed login attempts.
	ErrAccountLocked = errors.New("auth: account locked after repeated failed logins")
)

// maxLoginFailures is the number of consecutive failed logins that
// locks the account.
const maxLoginFailures = 5

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LockNotifier enqueues the account-locked notification inside the
// transaction that locks the account.
type LockNotifier interface {
	Enqueue(ctx context.Context, tx pgx.Tx, kind outbox.Kind, recipientEmail, recipientName string, variables map[string]any, attachments []outbox.Attachment) (*outbox.Entry, error)
}

// Service handles authentication business logic.
type Service struct {
	pool      TxBeginner
	repo      Repository
	notifier  LockNotifier
	jwtSecret []byte
	jwtTTL    time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(pool TxBeginner, repo Repository, notifier LockNotifier, jwtSecret string, jwtTTL time.Duration) *Service {
	if jwtTTL <= 0 {
		jwtTTL = 24 * time.Hour
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		notifier:  notifier,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    jwtTTL,
		now:       time.Now,
	}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a JWT token. After five
// consecutive failures the account is locked and a notification is
// enqueued in the same transaction as the lock.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if user.Locked() {
		return LoginResult{}, ErrAccountLocked
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		if failErr := s.recordFailure(ctx, user); failErr != nil {
			return LoginResult{}, failErr
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.FailedLogins > 0 {
		if err := s.repo.ResetLoginFailures(ctx, user.ID); err != nil {
			return LoginResult{}, err
		}
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// recordFailure bumps the failure counter and, when the threshold is
// reached, locks the account and enqueues the notification atomically.
func (s *Service) recordFailure(ctx context.Context, user User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockAt *time.Time
	if user.FailedLogins+1 >= maxLoginFailures {
		now := s.now()
		lockAt = &now
	}

	count, err := s.repo.RecordLoginFailure(ctx, tx, user.ID, lockAt)
	if err != nil {
		return err
	}

	if lockAt != nil && count >= maxLoginFailures {
		vars := map[string]any{
			"userName": user.FullName,
			"lockedAt": lockAt.UTC().Format(time.RFC3339),
			"attempts": count,
		}
		if _, err := s.notifier.Enqueue(ctx, tx, outbox.KindAccountLocked, user.Email, user.FullName, vars, nil); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("auth: commit tx: %w", err)
	}
	return nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the user ID.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok {
			return "", fmt.Errorf("auth: invalid user_id in token")
		}
		return userID, nil
	}

	return "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.jwtTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

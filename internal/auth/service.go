// Package auth covers registration, login, password reset, and the JWT
// boundary. Email verification codes live in the config/session store;
// bcrypt work runs on a bounded worker pool so a burst of logins cannot
// monopolize the process.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/store"
)

// Client-facing failures. Messages are surfaced verbatim.
var (
	ErrInvalidCredentials = errors.New("Invalid username or password")
	ErrBadCode            = errors.New("Invalid or expired verification code")
	ErrEmailNotFound      = errors.New("Email not found")
	ErrEmailRegistered    = errors.New("Email already registered")
	ErrUsernameExists     = errors.New("Username already exists")
)

// ValidationError carries a client-facing input problem.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// bcrypt ignores input beyond 72 bytes; enforce the bound explicitly.
const maxPasswordBytes = 72

const defaultHashWorkers = 4

var (
	upperPattern = regexp.MustCompile(`[A-Z]`)
	lowerPattern = regexp.MustCompile(`[a-z]`)
	digitPattern = regexp.MustCompile(`[0-9]`)
)

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	switch {
	case len(password) < 6:
		return &ValidationError{Msg: "Password must be at least 6 characters"}
	case len(password) > maxPasswordBytes:
		return &ValidationError{Msg: "Password must be at most 72 characters"}
	case !upperPattern.MatchString(password):
		return &ValidationError{Msg: "Password must contain at least one uppercase letter"}
	case !lowerPattern.MatchString(password):
		return &ValidationError{Msg: "Password must contain at least one lowercase letter"}
	case !digitPattern.MatchString(password):
		return &ValidationError{Msg: "Password must contain at least one number"}
	}
	return nil
}

// Mailer delivers verification codes. Implementations must respect the
// context deadline.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Config tunes the auth service.
type Config struct {
	JWTSecret    string
	AccessExpiry time.Duration
	HashWorkers  int
}

// Service implements the account lifecycle.
type Service struct {
	store   *store.Store
	configs *configstore.Store
	jwt     *JWTManager
	mailer  Mailer
	hashSem chan struct{}
	logger  *zap.Logger
}

// NewService wires the auth service. mailer may be nil; codes are then
// returned to the caller for development setups.
func NewService(cfg Config, st *store.Store, configs *configstore.Store, mailer Mailer, logger *zap.Logger) *Service {
	workers := cfg.HashWorkers
	if workers <= 0 {
		workers = defaultHashWorkers
	}
	return &Service{
		store:   st,
		configs: configs,
		jwt:     NewJWTManager(cfg.JWTSecret, cfg.AccessExpiry),
		mailer:  mailer,
		hashSem: make(chan struct{}, workers),
		logger:  logger,
	}
}

// JWT exposes the token manager for middleware wiring.
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// SendCodeResult reports code delivery. DevCode is set only when no
// mailer is configured or delivery failed.
type SendCodeResult struct {
	Sent    bool
	DevCode string
}

// SendCode generates a 6-digit verification code for the email and
// attempts delivery. Registered emails are rejected.
func (s *Service) SendCode(ctx context.Context, email string) (*SendCodeResult, error) {
	if email == "" {
		return nil, &ValidationError{Msg: "Email is required"}
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	s.configs.SetCode(email, code)

	if s.mailer == nil {
		s.logger.Info("No mailer configured, returning dev code", zap.String("email", email))
		return &SendCodeResult{Sent: false, DevCode: code}, nil
	}

	body := fmt.Sprintf(`<html><body>
<h2>Registration Verification Code</h2>
<p>Your verification code is:</p>
<h1 style="letter-spacing: 4px;">%s</h1>
<p>The code expires in %d minutes.</p>
</body></html>`, code, int(configstore.DefaultCodeTTL.Minutes()))

	if err := s.mailer.Send(ctx, email, "RAG AI Assistant - Registration Verification Code", body); err != nil {
		s.logger.Warn("Verification email delivery failed, returning dev code",
			zap.String("email", email), zap.Error(err))
		return &SendCodeResult{Sent: false, DevCode: code}, nil
	}
	s.logger.Info("Verification code sent", zap.String("email", email))
	return &SendCodeResult{Sent: true}, nil
}

// Register creates an account after verifying the emailed code.
func (s *Service) Register(ctx context.Context, username, email, password, code string) (*store.User, error) {
	if username == "" || email == "" {
		return nil, &ValidationError{Msg: "Username and email are required"}
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !s.configs.VerifyCode(email, code) {
		return nil, ErrBadCode
	}

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.CreateUser(ctx, username, email, hash)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUsernameTaken):
			return nil, ErrUsernameExists
		case errors.Is(err, store.ErrEmailTaken):
			return nil, ErrEmailRegistered
		}
		return nil, err
	}
	s.logger.Info("User registered", zap.String("username", username), zap.Int64("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := s.comparePassword(ctx, user.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	token, err := s.jwt.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return "", err
	}
	s.logger.Info("User logged in", zap.String("username", username))
	return token, nil
}

// ResetPassword sets a new password after verifying the emailed code.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrEmailNotFound
		}
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if !s.configs.VerifyCode(email, code) {
		return ErrBadCode
	}

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("Password reset", zap.String("username", user.Username))
	return nil
}

// hashPassword runs bcrypt on the bounded worker pool.
func (s *Service) hashPassword(ctx context.Context, password string) (string, error) {
	select {
	case s.hashSem <- struct{}{}:
		defer func() { <-s.hashSem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) comparePassword(ctx context.Context, hash, password string) error {
	select {
	case s.hashSem <- struct{}{}:
		defer func() { <-s.hashSem }()
	case <-ctx.Done():
		return ctx.Err()
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// generateCode returns a random 6-digit code, leading zeros kept.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

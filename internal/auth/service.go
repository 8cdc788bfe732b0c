package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type UpsertUserInput struct {
	Username string
	FullName string
	Role     string
	Password string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var u User
	var passwordHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, role, is_active, password_hash
		FROM users
		WHERE username = $1
		LIMIT 1
	`, username).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.IsActive, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// UpsertUser creates or updates an account by username. An empty password
// keeps the stored hash of an existing account.
func (s *Service) UpsertUser(ctx context.Context, in UpsertUserInput) (*User, error) {
	in.Username = normalizeUsername(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if in.Username == "" || !IsValidRole(in.Role) {
		return nil, ErrInvalidInput
	}
	if in.FullName == "" {
		in.FullName = in.Username
	}

	var hash any
	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
		}
		b, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}

	var u User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, full_name, role, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, COALESCE($4, ''), TRUE, now(), now())
		ON CONFLICT (username) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			password_hash = COALESCE($4, users.password_hash),
			is_active = TRUE,
			updated_at = now()
		RETURNING id, username, full_name, role, is_active
	`, in.Username, in.FullName, in.Role, hash).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.IsActive)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.full_name, u.role, u.is_active
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token)).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

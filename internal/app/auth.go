/**
 * @description
 * This file implements credential-based authentication for the service's API:
 * registration with bcrypt password hashing and login issuing HS256-signed
 * JWTs carrying the user's id, email, and role.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - github.com/golang-jwt/jwt/v5: access token issuance.
 * - internal/store: user persistence.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike,
	// so login responses never reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailInUse means registration hit an existing account.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword means the password fails the minimum length check.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

const (
	bcryptCost    = 10
	tokenLifetime = 24 * time.Hour
)

// AuthResult is what a successful login or registration returns.
type AuthResult struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
}

// AuthService issues and backs the service's access tokens.
type AuthService struct {
	repo      store.Repository
	jwtSecret []byte
}

// NewAuthService creates an auth service signing tokens with the given secret.
func NewAuthService(repo store.Repository, jwtSecret string) *AuthService {
	return &AuthService{repo: repo, jwtSecret: []byte(jwtSecret)}
}

// Login verifies the email/password pair and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(user)
}

// Register creates a new customer account and returns a signed access token.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("invalid email address")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, email, string(hash), domain.RoleCustomer)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.issueToken(user)
}

func (s *AuthService) issueToken(user *domain.User) (*AuthResult, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(user.ID, 10),
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &AuthResult{AccessToken: signed, Role: user.Role}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

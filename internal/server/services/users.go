package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxFullNameLength = 255
)

// Session is what registration and login hand back.
type Session struct {
	User   *models.User
	Tokens *TokenPair
}

// UserService handles registration, login and account queries.
type UserService struct {
	repos  repomanager.RepositoryManager
	tokens *TokenAuthority
	retry  dbx.RetryPolicy
	clock  timex.Clock
	logger logging.Logger

	// dummyHash is verified against on unknown emails so that lookups
	// that miss cost as much as a wrong password.
	dummyHash string
}

// NewUserService builds the service. The dummy hash is computed here, outside any request deadline; a failure
// fails construction.
func NewUserService(repos repomanager.RepositoryManager, tokens *TokenAuthority, logger logging.Logger) (*UserService, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	pw, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("dummy password: %w", err)
	}
	dummy, err := tokens.HashPassword(context.Background(), pw)
	if err != nil {
		return nil, fmt.Errorf("dummy password hash: %w", err)
	}
	return &UserService{
		repos:     repos,
		tokens:    tokens,
		retry:     tokens.retry,
		clock:     tokens.clock,
		logger:    logger.With("module", "users"),
		dummyHash: dummy,
	}, nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword enforces length 8..128 with at least one upper-case
// letter, one lower-case letter and one digit.
func ValidatePassword(p string) error {
	n := utf8.RuneCountInString(p)
	if n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d characters", common.ErrorValidation, minPasswordLength, maxPasswordLength)
	}
	var upper, lower, digit bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("%w: password needs an upper-case letter, a lower-case letter and a digit", common.ErrorValidation)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", common.ErrorValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.IndexByte(email, '@')+1:], ".") {
		return fmt.Errorf("%w: invalid email address", common.ErrorValidation)
	}
	return nil
}

func validateFullName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: full name is required", common.ErrorValidation)
	}
	if utf8.RuneCountInString(name) > maxFullNameLength {
		return fmt.Errorf("%w: full name is too long", common.ErrorValidation)
	}
	return nil
}

// Register creates an account with the user role and logs it in.
func (s *UserService) Register(ctx context.Context, email, password, fullName string) (*Session, error) {
	email = NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if err := errors.Join(validateEmail(email), ValidatePassword(password), validateFullName(fullName)); err != nil {
		return nil, err
	}

	hash, err := s.tokens.HashPassword(ctx, password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Roles:        []string{models.RoleUser},
		CreatedAt:    s.clock.Now().UTC(),
	}

	var created *models.User
	err = dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		created, err = s.repos.Users(s.repos.DB()).Create(ctx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(ctx, created.ID, created.Roles)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user registered", "user_id", created.ID)
	return &Session{User: created, Tokens: pair}, nil
}

// Login verifies credentials and issues a token pair. Unknown accounts and
// wrong passwords both yield common.ErrorUnauthorized after the same amount
// of hashing work.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)

	var user *models.User
	err := dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		user, err = s.repos.Users(s.repos.DB()).GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		if _, verr := s.tokens.VerifyPassword(ctx, password, s.dummyHash); verr != nil && ctx.Err() != nil {
			return nil, verr
		}
		return nil, common.ErrorUnauthorized
	}

	ok, err := s.tokens.VerifyPassword(ctx, password, user.PasswordHash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, common.ErrorUnauthorized
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	now := s.clock.Now().UTC()
	users := s.repos.Users(s.repos.DB())
	if err := users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn(ctx, "last login update failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	if s.tokens.NeedsRehash(user.PasswordHash) {
		if hash, err := s.tokens.HashPassword(ctx, password); err == nil {
			if err := users.UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
				s.logger.Warn(ctx, "password rehash not stored", "user_id", user.ID, "error", err)
			}
		}
	}

	pair, err := s.tokens.IssueTokenPair(ctx, user.ID, user.Roles)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Tokens: pair}, nil
}

func (s *UserService) Profile(ctx context.Context, subject string) (*models.User, error) {
	var user *models.User
	err := dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		user, err = s.repos.Users(s.repos.DB()).GetByID(ctx, subject)
		return err
	})
	return user, err
}

// UpdateProfile replaces the full name and, when prefs is not nil, the
// preferences document.
func (s *UserService) UpdateProfile(ctx context.Context, subject, fullName string, prefs json.RawMessage) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	if err := validateFullName(fullName); err != nil {
		return nil, err
	}
	if prefs != nil && !json.Valid(prefs) {
		return nil, fmt.Errorf("%w: preferences must be valid JSON", common.ErrorValidation)
	}

	var user *models.User
	err := dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		user, err = s.repos.Users(s.repos.DB()).UpdateProfile(ctx, subject, fullName, prefs, s.clock.Now().UTC())
		return err
	})
	return user, err
}

// Delete removes the account and revokes its refresh tokens.
func (s *UserService) Delete(ctx context.Context, subject string) error {
	if _, err := s.tokens.RevokeSubject(ctx, subject); err != nil {
		return err
	}
	err := dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repos.Users(s.repos.DB()).Delete(ctx, subject)
	})
	if err == nil {
		s.logger.Info(ctx, "user deleted", "user_id", subject)
	}
	return err
}

// Stats summarizes the account for the user statistics service.
func (s *UserService) Stats(ctx context.Context, subject string) (*models.UserStats, error) {
	var st *models.UserStats
	err := dbx.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		st, err = s.repos.Users(s.repos.DB()).Stats(ctx, subject, s.clock.Now())
		return err
	})
	return st, err
}

package rpcapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
)

func authMessage(name protoreflect.Name) protoreflect.MessageDescriptor {
	return AuthFile.Messages().ByName(name)
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (*RegisterRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("RegisterRequest")
}

func (r *RegisterRequest) toProto(m protoreflect.Message) {
	setString(m, "email", r.Email)
	setString(m, "password", r.Password)
	setString(m, "full_name", r.FullName)
}

func (r *RegisterRequest) fromProto(m protoreflect.Message) error {
	r.Email = getString(m, "email")
	r.Password = getString(m, "password")
	r.FullName = getString(m, "full_name")
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (*LoginRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("LoginRequest")
}

func (r *LoginRequest) toProto(m protoreflect.Message) {
	setString(m, "email", r.Email)
	setString(m, "password", r.Password)
}

func (r *LoginRequest) fromProto(m protoreflect.Message) error {
	r.Email = getString(m, "email")
	r.Password = getString(m, "password")
	return nil
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (*RefreshRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("RefreshRequest")
}

func (r *RefreshRequest) toProto(m protoreflect.Message) { setString(m, "refresh_token", r.RefreshToken) }

func (r *RefreshRequest) fromProto(m protoreflect.Message) error {
	r.RefreshToken = getString(m, "refresh_token")
	return nil
}

// LogoutRequest revokes the caller's access token and, when given, the
// refresh token of the same session.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (*LogoutRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("LogoutRequest")
}

func (r *LogoutRequest) toProto(m protoreflect.Message) { setString(m, "refresh_token", r.RefreshToken) }

func (r *LogoutRequest) fromProto(m protoreflect.Message) error {
	r.RefreshToken = getString(m, "refresh_token")
	return nil
}

type LogoutResponse struct{}

func (*LogoutResponse) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("LogoutResponse")
}
func (*LogoutResponse) toProto(protoreflect.Message)         {}
func (*LogoutResponse) fromProto(protoreflect.Message) error { return nil }

type PingRequest struct{}

func (*PingRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("PingRequest")
}
func (*PingRequest) toProto(protoreflect.Message)         {}
func (*PingRequest) fromProto(protoreflect.Message) error { return nil }

type PingResponse struct {
	Status string `json:"status"`
}

func (*PingResponse) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("PingResponse")
}

func (r *PingResponse) toProto(m protoreflect.Message) { setString(m, "status", r.Status) }

func (r *PingResponse) fromProto(m protoreflect.Message) error {
	r.Status = getString(m, "status")
	return nil
}

// User is the public view of an account.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Roles       []string   `json:"roles,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (*User) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("User")
}

func (u *User) toProto(m protoreflect.Message) {
	setString(m, "id", u.ID)
	setString(m, "email", u.Email)
	setString(m, "full_name", u.FullName)
	setStrings(m, "roles", u.Roles)
	setTimestamp(m, "created_at", u.CreatedAt)
	if u.LastLoginAt != nil {
		setTimestamp(m, "last_login_at", *u.LastLoginAt)
	}
}

func (u *User) fromProto(m protoreflect.Message) error {
	u.ID = getString(m, "id")
	u.Email = getString(m, "email")
	u.FullName = getString(m, "full_name")
	u.Roles = getStrings(m, "roles")
	u.CreatedAt, _ = getTimestamp(m, "created_at")
	if t, ok := getTimestamp(m, "last_login_at"); ok {
		u.LastLoginAt = &t
	}
	return nil
}

// AuthResponse carries a token pair and, for register and login, the user.
type AuthResponse struct {
	User         *User  `json:"user,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`

	RefreshTokenID string `json:"refresh_token_id,omitempty"`
}

func (*AuthResponse) protoDescriptor() protoreflect.MessageDescriptor {
	return authMessage("AuthResponse")
}

func (r *AuthResponse) toProto(m protoreflect.Message) {
	if r.User != nil {
		r.User.toProto(m.Mutable(fieldOf(m, "user")).Message())
	}
	setString(m, "access_token", r.AccessToken)
	setString(m, "refresh_token", r.RefreshToken)
	setString(m, "token_type", r.TokenType)
	setInt64(m, "expires_in", r.ExpiresIn)
	setString(m, "refresh_token_id", r.RefreshTokenID)
}

func (r *AuthResponse) fromProto(m protoreflect.Message) error {
	if fd := fieldOf(m, "user"); m.Has(fd) {
		r.User = &User{}
		if err := r.User.fromProto(m.Get(fd).Message()); err != nil {
			return err
		}
	}
	r.AccessToken = getString(m, "access_token")
	r.RefreshToken = getString(m, "refresh_token")
	r.TokenType = getString(m, "token_type")
	r.ExpiresIn = getInt64(m, "expires_in")
	r.RefreshTokenID = getString(m, "refresh_token_id")
	return nil
}

type GetCurrentUserStatsRequest struct{}

func (*GetCurrentUserStatsRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return UserStatsFile.Messages().ByName("GetCurrentUserStatsRequest")
}
func (*GetCurrentUserStatsRequest) toProto(protoreflect.Message)         {}
func (*GetCurrentUserStatsRequest) fromProto(protoreflect.Message) error { return nil }

// UserStats is user_stats.GetCurrentUserStatsResponse. On the wire the
// timestamps are RFC 3339 strings and Preferences is a JSON string.
type UserStats struct {
	UserID            string          `json:"user_id"`
	Email             string          `json:"email"`
	FullName          string          `json:"full_name"`
	Preferences       json.RawMessage `json:"preferences,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	LastLoginAt       *time.Time      `json:"last_login_at,omitempty"`
	RefreshTokenCount int64           `json:"refresh_token_count"`
}

func (*UserStats) protoDescriptor() protoreflect.MessageDescriptor {
	return UserStatsFile.Messages().ByName("GetCurrentUserStatsResponse")
}

func (s *UserStats) toProto(m protoreflect.Message) {
	setString(m, "user_id", s.UserID)
	setString(m, "email", s.Email)
	setString(m, "full_name", s.FullName)
	if len(s.Preferences) > 0 {
		m.Set(fieldOf(m, "preferences"), protoreflect.ValueOfString(string(s.Preferences)))
	}
	setString(m, "created_at", formatTime(s.CreatedAt))
	setString(m, "updated_at", formatTime(s.UpdatedAt))
	setInt64(m, "refresh_token_count", s.RefreshTokenCount)
	if s.LastLoginAt != nil {
		m.Set(fieldOf(m, "last_login"), protoreflect.ValueOfString(formatTime(*s.LastLoginAt)))
	}
}

func (s *UserStats) fromProto(m protoreflect.Message) error {
	var err error
	s.UserID = getString(m, "user_id")
	s.Email = getString(m, "email")
	s.FullName = getString(m, "full_name")
	s.RefreshTokenCount = getInt64(m, "refresh_token_count")

	if p, ok := optionalString(m, "preferences"); ok {
		if !json.Valid([]byte(p)) {
			return errors.New("rpcapi: preferences is not JSON")
		}
		s.Preferences = json.RawMessage(p)
	}
	if s.CreatedAt, err = parseTime(getString(m, "created_at")); err != nil {
		return fmt.Errorf("rpcapi: created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(getString(m, "updated_at")); err != nil {
		return fmt.Errorf("rpcapi: updated_at: %w", err)
	}
	if v, ok := optionalString(m, "last_login"); ok {
		t, err := parseTime(v)
		if err != nil {
			return fmt.Errorf("rpcapi: last_login: %w", err)
		}
		s.LastLoginAt = &t
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

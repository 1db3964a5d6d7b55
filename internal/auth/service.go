package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"medsconnect/internal/apperr"
	"medsconnect/internal/logging"
	"medsconnect/internal/validation"
)

var (
	ErrInvalidCredentials = errors.New("invalid email/username or password")
	ErrUnauthorized       = errors.New("unauthorized")
)

type Service struct {
	DB         *gorm.DB
	JWT        *JWT
	Sessions   SessionStore
	SessionTTL time.Duration
	Log        *zap.Logger
	Clock      func() time.Time
}

type RegisterInput struct {
	Username        string     `json:"username" validate:"required,max=64"`
	Email           string     `json:"email" validate:"required,email"`
	Password        string     `json:"password" validate:"required,min=6"`
	ConfirmPassword string     `json:"confirm_password"`
	FirstName       string     `json:"first_name" validate:"max=100"`
	LastName        string     `json:"last_name" validate:"max=100"`
	DateOfBirth     *time.Time `json:"date_of_birth"`
	Role            Role       `json:"role" validate:"omitempty,oneof=Patient Caregiver"`
}

// Session is what a successful register or login hands back.
type Session struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	SessionID string `json:"-"`
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) ttl() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return 7 * 24 * time.Hour
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return nil, apperr.Validation("passwords do not match")
	}
	if in.Role == "" {
		in.Role = RolePatient
	}

	var taken int64
	if err := s.DB.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", in.Username, in.Email).
		Count(&taken).Error; err != nil {
		return nil, apperr.Storage("failed to register user", err)
	}
	if taken > 0 {
		return nil, apperr.Conflict("username or email already exists")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Storage("failed to register user", err)
	}

	u := User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		DateOfBirth:  in.DateOfBirth,
		Role:         in.Role,
		CreatedAt:    s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&u).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Conflict("username or email already exists")
		}
		return nil, apperr.Storage("failed to register user", err)
	}

	logging.OrNop(s.Log).Info("user registered", zap.Uint64("user_id", u.ID), zap.String("role", string(u.Role)))
	return s.startSession(ctx, u)
}

// Login accepts either the email address or the username as identifier.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var u User
	err := s.DB.WithContext(ctx).
		Where("email = ? OR username = ?", strings.ToLower(identifier), identifier).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Storage("failed to log in", err)
	}
	if !ComparePassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	at := s.now()
	if err := s.DB.WithContext(ctx).Model(&u).Update("last_login_at", at).Error; err != nil {
		return nil, apperr.Storage("failed to log in", err)
	}
	u.LastLoginAt = &at

	return s.startSession(ctx, u)
}

func (s *Service) startSession(ctx context.Context, u User) (*Session, error) {
	sid, err := s.Sessions.Create(ctx, u.ID, s.ttl())
	if err != nil {
		return nil, apperr.Storage("failed to start session", err)
	}
	token, err := s.JWT.Sign(u.ID, sid)
	if err != nil {
		_ = s.Sessions.Delete(ctx, sid)
		return nil, apperr.Storage("failed to start session", err)
	}
	return &Session{User: u, Token: token, SessionID: sid}, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.Sessions.Delete(ctx, sessionID); err != nil {
		return apperr.Storage("failed to end session", err)
	}
	return nil
}

// Authenticate returns the user and session behind a bearer token. A token
// whose session was logged out or expired is rejected even if its signature
// is still valid.
func (s *Service) Authenticate(ctx context.Context, token string) (uint64, string, error) {
	uid, sid, err := s.JWT.Verify(token)
	if err != nil {
		return 0, "", ErrUnauthorized
	}
	owner, ok, err := s.Sessions.Resolve(ctx, sid)
	if err != nil {
		return 0, "", apperr.Storage("failed to resolve session", err)
	}
	if !ok || owner != uid {
		return 0, "", ErrUnauthorized
	}
	return uid, sid, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID uint64) (*User, error) {
	var u User
	err := s.DB.WithContext(ctx).First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Storage("failed to load user", err)
	}
	return &u, nil
}

// DeleteUser removes the account and its medications. Dose history and
// caregiver links must be cleared first.
func (s *Service) DeleteUser(ctx context.Context, userID uint64) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.First(&u, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user not found")
			}
			return err
		}

		var logs int64
		if err := tx.Table("medication_logs").
			Where("user_id = ? OR marked_by_user_id = ?", userID, userID).
			Count(&logs).Error; err != nil {
			return err
		}
		var links int64
		if err := tx.Table("caregiver_relationships").
			Where("patient_id = ? OR caregiver_id = ?", userID, userID).
			Count(&links).Error; err != nil {
			return err
		}
		if logs > 0 || links > 0 {
			return apperr.Conflict("user still has medication logs or caregiver relationships")
		}

		if err := tx.Exec("DELETE FROM medications WHERE user_id = ?", userID).Error; err != nil {
			return err
		}
		return tx.Delete(&User{}, userID).Error
	})
	if err != nil {
		return apperr.Boundary(err, "failed to delete user")
	}
	logging.OrNop(s.Log).Info("user deleted", zap.Uint64("user_id", userID))
	return nil
}

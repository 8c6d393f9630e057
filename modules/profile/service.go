package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/google/uuid"
)

const (
	// MaxUsernameLength is the longest accepted username, in characters.
	MaxUsernameLength = 80
	// MinPasswordLength is the shortest accepted password, in bytes.
	MinPasswordLength = 4
	// MaxPasswordLength is bcrypt's input limit.
	MaxPasswordLength = 72
	// MaxAvatarURLLength bounds stored avatar URLs.
	MaxAvatarURLLength = 2048
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidUsername is returned when a username is empty or too long.
	ErrInvalidUsername = errors.New("username must be between 1 and 80 characters")
	// ErrWeakPassword is returned when password is too short.
	ErrWeakPassword = errors.New("password must be at least 4 characters")
	// ErrPasswordTooLong is returned when password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
	// ErrInvalidAvatarURL is returned for avatar URLs that are neither local nor http(s).
	ErrInvalidAvatarURL = errors.New("avatar url must be a local path or an http(s) url")
)

// ProfileService holds account and profile logic.
type ProfileService struct {
	repo   *UserRepository
	hasher *PasswordHasher
	jwt    *JWTManager
	admins map[string]struct{}
}

// NewProfileService creates a new ProfileService. Usernames in admins are
// reported as administrators.
func NewProfileService(repo *UserRepository, hasher *PasswordHasher, jwt *JWTManager, admins []string) *ProfileService {
	set := make(map[string]struct{}, len(admins))
	for _, name := range admins {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}
	return &ProfileService{
		repo:   repo,
		hasher: hasher,
		jwt:    jwt,
		admins: set,
	}
}

// Register creates an account and opens a session for it.
func (s *ProfileService) Register(_ context.Context, username, password string) (*domain.Session, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return nil, ErrPasswordTooLong
	}

	exists, err := s.repo.UsernameExists(username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username existence: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.openSession(user)
}

// Login verifies the credentials and opens a session.
func (s *ProfileService) Login(_ context.Context, username, password string) (*domain.Session, error) {
	user, err := s.repo.FindByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(user)
}

// ValidateToken validates a session token and returns its claims.
func (s *ProfileService) ValidateToken(_ context.Context, token string) (*domain.Claims, error) {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &domain.Claims{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

// FindByUsername returns the public profile of username.
func (s *ProfileService) FindByUsername(_ context.Context, username string) (*domain.Profile, error) {
	user, err := s.repo.FindByUsername(username)
	if err != nil {
		return nil, err
	}
	return s.profileOf(user), nil
}

// SetAvatar changes the avatar URL of username. An empty URL clears it.
func (s *ProfileService) SetAvatar(_ context.Context, username, avatarURL string) (*domain.Profile, error) {
	avatarURL = strings.TrimSpace(avatarURL)
	if !validAvatarURL(avatarURL) {
		return nil, ErrInvalidAvatarURL
	}
	if err := s.repo.UpdateAvatar(username, avatarURL); err != nil {
		return nil, err
	}
	return &domain.Profile{
		Username:  username,
		AvatarURL: avatarURL,
		IsAdmin:   s.IsAdmin(username),
	}, nil
}

// IsAdmin reports whether username is a configured administrator.
func (s *ProfileService) IsAdmin(username string) bool {
	_, ok := s.admins[username]
	return ok
}

func (s *ProfileService) openSession(user *domain.User) (*domain.Session, error) {
	token, err := s.jwt.GenerateSessionToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	return &domain.Session{
		Username:  user.Username,
		Token:     token,
		ExpiresIn: s.jwt.SessionDuration(),
	}, nil
}

func (s *ProfileService) profileOf(user *domain.User) *domain.Profile {
	return &domain.Profile{
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		IsAdmin:   s.IsAdmin(user.Username),
	}
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	return username, nil
}

func validAvatarURL(u string) bool {
	if u == "" {
		return true
	}
	if len(u) > MaxAvatarURLLength {
		return false
	}
	return strings.HasPrefix(u, "/") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

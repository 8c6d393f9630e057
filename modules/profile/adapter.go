package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ProfilePort is how other modules use the profile module.
type ProfilePort interface {
	Register(ctx context.Context, username, password string) (*domain.Session, error)
	Login(ctx context.Context, username, password string) (*domain.Session, error)
	ValidateToken(ctx context.Context, token string) (*domain.Claims, error)
	FindUser(ctx context.Context, username string) (*domain.Profile, error)
	SetAvatar(ctx context.Context, username, avatarURL string) (*domain.Profile, error)
}

// ProfileAdapter implements ProfilePort using the service container.
type ProfileAdapter struct {
	container mono.ServiceContainer
}

var _ ProfilePort = (*ProfileAdapter)(nil)

// NewProfileAdapter creates a new ProfileAdapter.
func NewProfileAdapter(container mono.ServiceContainer) *ProfileAdapter {
	return &ProfileAdapter{container: container}
}

// Register creates an account.
func (a *ProfileAdapter) Register(ctx context.Context, username, password string) (*domain.Session, error) {
	return a.session(ctx, "register", username, password)
}

// Login opens a session.
func (a *ProfileAdapter) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	return a.session(ctx, "login", username, password)
}

func (a *ProfileAdapter) session(ctx context.Context, service, username, password string) (*domain.Session, error) {
	req := CredentialsRequest{Username: username, Password: password}
	var resp SessionResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("%s request failed: %w", service, err)
	}
	if resp.Code != "" {
		return nil, codeError(resp.Code, resp.Error)
	}

	return &domain.Session{
		Username:  resp.Username,
		Token:     resp.Token,
		ExpiresIn: resp.ExpiresIn,
	}, nil
}

// ValidateToken validates a session token and returns its claims.
func (a *ProfileAdapter) ValidateToken(ctx context.Context, token string) (*domain.Claims, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"validate-token",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("validate-token request failed: %w", err)
	}

	if !resp.Valid {
		if resp.Error == "token expired" {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	return &domain.Claims{
		UserID:   resp.UserID,
		Username: resp.Username,
	}, nil
}

// FindUser returns the public profile of username, or ErrUserNotFound.
func (a *ProfileAdapter) FindUser(ctx context.Context, username string) (*domain.Profile, error) {
	req := FindUserRequest{Username: username}
	var resp ProfileResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"find-user",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("find-user request failed: %w", err)
	}
	return profileFrom(resp)
}

// SetAvatar changes the avatar URL of username.
func (a *ProfileAdapter) SetAvatar(ctx context.Context, username, avatarURL string) (*domain.Profile, error) {
	req := SetAvatarRequest{Username: username, AvatarURL: avatarURL}
	var resp ProfileResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"set-avatar",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("set-avatar request failed: %w", err)
	}
	return profileFrom(resp)
}

func profileFrom(resp ProfileResponse) (*domain.Profile, error) {
	if !resp.Found {
		if resp.Code == "" {
			return nil, ErrUserNotFound
		}
		return nil, codeError(resp.Code, resp.Error)
	}
	return &domain.Profile{
		Username:  resp.Username,
		AvatarURL: resp.AvatarURL,
		IsAdmin:   resp.IsAdmin,
	}, nil
}

// ErrInvalidInput wraps request validation failures reported by the service.
var ErrInvalidInput = errors.New("invalid input")

func codeError(code, msg string) error {
	switch code {
	case CodeUserExists:
		return ErrUserExists
	case CodeInvalidCredentials:
		return ErrInvalidCredentials
	case CodeNotFound:
		return ErrUserNotFound
	case CodeInvalidInput:
		return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
	default:
		return fmt.Errorf("profile service error %s: %s", code, msg)
	}
}

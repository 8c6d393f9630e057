// Package profile owns user accounts: registration, login, session tokens
// and avatars. Other modules reach it through request-reply services.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config configures the profile module.
type Config struct {
	DBPath     string
	JWT        JWTConfig
	BcryptCost int
	Admins     []string
}

// ProfileModule provides account services.
type ProfileModule struct {
	cfg     Config
	db      *gorm.DB
	service *ProfileService
	logger  types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*ProfileModule)(nil)
var _ mono.ServiceProviderModule = (*ProfileModule)(nil)
var _ mono.HealthCheckableModule = (*ProfileModule)(nil)

// NewModule creates a new ProfileModule.
func NewModule(cfg Config, logger types.Logger) *ProfileModule {
	if cfg.DBPath == "" {
		cfg.DBPath = "tchat.db"
	}
	if cfg.JWT.SecretKey == "" {
		cfg.JWT = DefaultJWTConfig()
	}
	return &ProfileModule{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *ProfileModule) Name() string {
	return "profile"
}

// Start opens the user database.
func (m *ProfileModule) Start(_ context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.cfg.DBPath), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	m.service = NewProfileService(
		NewUserRepository(db),
		NewPasswordHasher(m.cfg.BcryptCost),
		NewJWTManager(m.cfg.JWT),
		m.cfg.Admins,
	)

	m.logger.Info("Profile module started", "database", m.cfg.DBPath, "admins", len(m.cfg.Admins))
	return nil
}

// Stop closes the database.
func (m *ProfileModule) Stop(_ context.Context) error {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	m.logger.Info("Profile module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *ProfileModule) Health(_ context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}
	if err := sqlDB.Ping(); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"database": m.cfg.DBPath,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *ProfileModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "register", json.Unmarshal, json.Marshal, m.handleRegister,
	); err != nil {
		return fmt.Errorf("failed to register register service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "login", json.Unmarshal, json.Marshal, m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register login service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "validate-token", json.Unmarshal, json.Marshal, m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register validate-token service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "find-user", json.Unmarshal, json.Marshal, m.handleFindUser,
	); err != nil {
		return fmt.Errorf("failed to register find-user service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "set-avatar", json.Unmarshal, json.Marshal, m.handleSetAvatar,
	); err != nil {
		return fmt.Errorf("failed to register set-avatar service: %w", err)
	}

	m.logger.Info("Registered services", "services", "register, login, validate-token, find-user, set-avatar")
	return nil
}

func (m *ProfileModule) handleRegister(ctx context.Context, req CredentialsRequest, _ *mono.Msg) (SessionResponse, error) {
	session, err := m.service.Register(ctx, req.Username, req.Password)
	if err != nil {
		return sessionFailure(err)
	}
	return SessionResponse{
		Username:  session.Username,
		Token:     session.Token,
		ExpiresIn: session.ExpiresIn,
	}, nil
}

func (m *ProfileModule) handleLogin(ctx context.Context, req CredentialsRequest, _ *mono.Msg) (SessionResponse, error) {
	session, err := m.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		return sessionFailure(err)
	}
	return SessionResponse{
		Username:  session.Username,
		Token:     session.Token,
		ExpiresIn: session.ExpiresIn,
	}, nil
}

func (m *ProfileModule) handleValidateToken(ctx context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	claims, err := m.service.ValidateToken(ctx, req.Token)
	if err != nil {
		errMsg := "invalid token"
		if errors.Is(err, ErrExpiredToken) {
			errMsg = "token expired"
		}
		// Validation failures are answers, not service errors.
		return ValidateTokenResponse{Valid: false, Error: errMsg}, nil
	}
	return ValidateTokenResponse{
		Valid:    true,
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

func (m *ProfileModule) handleFindUser(ctx context.Context, req FindUserRequest, _ *mono.Msg) (ProfileResponse, error) {
	profile, err := m.service.FindByUsername(ctx, req.Username)
	if err != nil {
		return profileFailure(err)
	}
	return profileFound(profile), nil
}

func (m *ProfileModule) handleSetAvatar(ctx context.Context, req SetAvatarRequest, _ *mono.Msg) (ProfileResponse, error) {
	profile, err := m.service.SetAvatar(ctx, req.Username, req.AvatarURL)
	if err != nil {
		return profileFailure(err)
	}
	return profileFound(profile), nil
}

func sessionFailure(err error) (SessionResponse, error) {
	switch {
	case errors.Is(err, ErrUserExists):
		return SessionResponse{Code: CodeUserExists, Error: err.Error()}, nil
	case errors.Is(err, ErrInvalidCredentials):
		return SessionResponse{Code: CodeInvalidCredentials, Error: err.Error()}, nil
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrWeakPassword), errors.Is(err, ErrPasswordTooLong):
		return SessionResponse{Code: CodeInvalidInput, Error: err.Error()}, nil
	default:
		return SessionResponse{}, err
	}
}

func profileFailure(err error) (ProfileResponse, error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ProfileResponse{Code: CodeNotFound, Error: err.Error()}, nil
	case errors.Is(err, ErrInvalidAvatarURL):
		return ProfileResponse{Code: CodeInvalidInput, Error: err.Error()}, nil
	default:
		return ProfileResponse{}, err
	}
}

func profileFound(p *domain.Profile) ProfileResponse {
	return ProfileResponse{
		Found:     true,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		IsAdmin:   p.IsAdmin,
	}
}

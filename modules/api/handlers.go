package api

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/Elpepit0/site-tchat-visio/modules/avatar"
	"github.com/Elpepit0/site-tchat-visio/modules/profile"
	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// visitorCookie identifies an anonymous visitor for /ping.
const visitorCookie = "visitor_id"

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:  "healthy",
		Modules: make(map[string]ModuleHealth, len(m.healthSources)+1),
	}
	resp.Modules[m.Name()] = moduleHealth(m.Health(c.UserContext()))
	for _, src := range m.healthSources {
		h := moduleHealth(src.Health(c.UserContext()))
		if !h.Healthy {
			resp.Status = "degraded"
		}
		resp.Modules[src.Name()] = h
	}
	if resp.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// register handles POST /register.
func (m *APIModule) register(c *fiber.Ctx) error {
	req, bad := parseCredentials(c)
	if bad != nil {
		return c.Status(fiber.StatusBadRequest).JSON(bad)
	}
	session, err := m.profile.Register(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.profileError(c, err)
	}
	m.setSessionCookie(c, session.Token, session.ExpiresIn)
	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		Message:   "Registration successful",
		Username:  session.Username,
		ExpiresIn: session.ExpiresIn,
	})
}

// login handles POST /login.
func (m *APIModule) login(c *fiber.Ctx) error {
	req, bad := parseCredentials(c)
	if bad != nil {
		return c.Status(fiber.StatusBadRequest).JSON(bad)
	}
	session, err := m.profile.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.profileError(c, err)
	}
	m.setSessionCookie(c, session.Token, session.ExpiresIn)
	return c.JSON(SessionResponse{
		Message:   "Login successful",
		Username:  session.Username,
		ExpiresIn: session.ExpiresIn,
	})
}

// logout handles POST /logout.
func (m *APIModule) logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(MessageResponse{Message: "Logged out"})
}

// me handles GET /me.
func (m *APIModule) me(c *fiber.Ctx) error {
	claims, _ := claimsFrom(c)
	p, err := m.profile.FindUser(c.UserContext(), claims.Username)
	if err != nil {
		if errors.Is(err, profile.ErrUserNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Not logged in",
			})
		}
		return m.profileError(c, err)
	}
	return c.JSON(MeResponse{
		Username:  p.Username,
		IsAdmin:   p.IsAdmin,
		AvatarURL: p.AvatarURL,
	})
}

// findUser handles GET /user/:username.
func (m *APIModule) findUser(c *fiber.Ctx) error {
	p, err := m.profile.FindUser(c.UserContext(), c.Params("username"))
	if err != nil {
		return m.profileError(c, err)
	}
	return c.JSON(UserResponse{Username: p.Username, AvatarURL: p.AvatarURL})
}

// setAvatar handles POST /set_avatar.
func (m *APIModule) setAvatar(c *fiber.Ctx) error {
	claims, _ := claimsFrom(c)
	var req SetAvatarRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid request body",
		})
	}
	url, err := m.replaceAvatar(c.UserContext(), claims.Username, strings.TrimSpace(req.AvatarURL))
	if err != nil {
		return m.profileError(c, err)
	}
	return c.JSON(AvatarResponse{AvatarURL: url})
}

// uploadAvatar handles POST /avatar (multipart field "avatar").
func (m *APIModule) uploadAvatar(c *fiber.Ctx) error {
	claims, _ := claimsFrom(c)
	fh, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "bad_request",
			Message: "Missing avatar file",
		})
	}
	if fh.Size > avatar.MaxAvatarBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error:   "too_large",
			Message: avatar.ErrTooLarge.Error(),
		})
	}
	f, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to read upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, avatar.MaxAvatarBytes+1))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to read upload")
	}

	stored, err := m.avatars.Upload(c.UserContext(), claims.Username, data)
	if err != nil {
		return avatarError(c, err)
	}
	url, err := m.replaceAvatar(c.UserContext(), claims.Username, stored.URL)
	if err != nil {
		_ = m.avatars.Delete(context.Background(), stored.ID, claims.Username)
		return m.profileError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(AvatarResponse{AvatarURL: url})
}

// serveAvatar handles GET /avatars/:id.
func (m *APIModule) serveAvatar(c *fiber.Ctx) error {
	data, contentType, err := m.avatars.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return avatarError(c, err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400, immutable")
	return c.Send(data)
}

// replaceAvatar points username's profile at url, removes the image it
// replaces when it was stored here, and refreshes everyone's user list.
func (m *APIModule) replaceAvatar(ctx context.Context, username, url string) (string, error) {
	previous := ""
	if p, err := m.profile.FindUser(ctx, username); err == nil {
		previous = p.AvatarURL
	}

	p, err := m.profile.SetAvatar(ctx, username, url)
	if err != nil {
		return "", err
	}

	if id, ok := avatar.IDFromURL(previous); ok && previous != p.AvatarURL {
		if err := m.avatars.Delete(ctx, id, username); err != nil && !errors.Is(err, avatar.ErrAvatarNotFound) {
			m.logger.Warn("Failed to delete replaced avatar", "username", username, "error", err)
		}
	}
	if err := m.relay.AvatarChanged(ctx, username); err != nil {
		m.logger.Warn("Failed to refresh user list", "username", username, "error", err)
	}
	return p.AvatarURL, nil
}

// ping handles POST /ping.
func (m *APIModule) ping(c *fiber.Ctx) error {
	session := c.Cookies(visitorCookie)
	if _, err := uuid.Parse(session); err != nil {
		session = uuid.New().String()
		c.Cookie(&fiber.Cookie{
			Name:     visitorCookie,
			Value:    session,
			Path:     "/",
			HTTPOnly: true,
			Secure:   m.cfg.CookieSecure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	if err := m.visitors.Ping(c.UserContext(), session); err != nil {
		m.logger.Error("Failed to record ping", "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "Visitor tracking unavailable")
	}
	return c.JSON(PingResponse{Status: "pong"})
}

// activeVisitors handles GET /active_visitors.
func (m *APIModule) activeVisitors(c *fiber.Ctx) error {
	n, err := m.visitors.Active(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to count visitors", "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "Visitor tracking unavailable")
	}
	return c.JSON(ActiveVisitorsResponse{ActiveVisitors: n})
}

// spaFallback serves index.html for client side routes.
func (m *APIModule) spaFallback(c *fiber.Ctx) error {
	return c.SendFile(filepath.Join(m.cfg.StaticDir, "index.html"))
}

func (m *APIModule) setSessionCookie(c *fiber.Ctx, token string, expiresIn int64) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(time.Duration(expiresIn) * time.Second),
		HTTPOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// profileError maps profile errors to HTTP responses without exposing
// internals.
func (m *APIModule) profileError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, profile.ErrUserExists):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "user_exists",
			Message: "Username already taken",
		})
	case errors.Is(err, profile.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "invalid_credentials",
			Message: "Invalid username or password",
		})
	case errors.Is(err, profile.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "User not found",
		})
	case errors.Is(err, profile.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_input",
			Message: strings.TrimPrefix(err.Error(), profile.ErrInvalidInput.Error()+": "),
		})
	default:
		m.logger.Error("Profile request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_error",
			Message: "Profile service unavailable",
		})
	}
}

func avatarError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, avatar.ErrAvatarNotFound), errors.Is(err, avatar.ErrInvalidAvatarID):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Avatar not found",
		})
	case errors.Is(err, avatar.ErrTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error:   "too_large",
			Message: err.Error(),
		})
	case errors.Is(err, avatar.ErrEmpty), errors.Is(err, avatar.ErrUnsupportedImage):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_image",
			Message: err.Error(),
		})
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Avatar storage unavailable")
	}
}

// parseCredentials decodes a credentials body; a non-nil ErrorResponse
// means the request is malformed.
func parseCredentials(c *fiber.Ctx) (CredentialsRequest, *ErrorResponse) {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return req, &ErrorResponse{Error: "bad_request", Message: "Invalid request body"}
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return req, &ErrorResponse{Error: "bad_request", Message: "Username and password are required"}
	}
	return req, nil
}

func moduleHealth(h mono.HealthStatus) ModuleHealth {
	return ModuleHealth{
		Healthy: h.Healthy,
		Message: h.Message,
		Details: h.Details,
	}
}

package api

import (
	"strings"
	"time"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/Elpepit0/site-tchat-visio/modules/profile"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	// UserContextKey is the key used to store user claims in the Fiber context.
	UserContextKey = "user"

	// SessionCookie holds the session token.
	SessionCookie = "token"
)

// sessionToken returns the token presented by the request: the session
// cookie first, then a bearer header, then the token query parameter.
func sessionToken(c *fiber.Ctx) string {
	if token := c.Cookies(SessionCookie); token != "" {
		return token
	}
	if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// currentUser validates the request's session token, if any.
func currentUser(c *fiber.Ctx, port profile.ProfilePort) (*domain.Claims, bool) {
	token := sessionToken(c)
	if token == "" {
		return nil, false
	}
	claims, err := port.ValidateToken(c.UserContext(), token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// AuthMiddleware rejects requests without a valid session and stores the
// claims under UserContextKey.
func AuthMiddleware(port profile.ProfilePort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := currentUser(c, port)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Not logged in",
			})
		}
		c.Locals(UserContextKey, claims)
		return c.Next()
	}
}

// claimsFrom returns the claims stored by AuthMiddleware.
func claimsFrom(c *fiber.Ctx) (*domain.Claims, bool) {
	claims, ok := c.Locals(UserContextKey).(*domain.Claims)
	return claims, ok
}

// credentialLimiter throttles /login and /register per client IP. A nil
// storage keeps the counters in process memory.
func credentialLimiter(maxPerMinute int, storage fiber.Storage) fiber.Handler {
	if maxPerMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	cfg := limiter.Config{
		Max:        maxPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "tchat:login:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "rate_limited",
				Message: "Too many attempts, try again later",
			})
		},
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return limiter.New(cfg)
}

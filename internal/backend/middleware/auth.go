package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/palettebox/internal/backend/session"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	SessionCookieName = "palettebox_session"
	moderatorKey      = "moderator"
)

// TokenFromRequest reads a bearer token, falling back to the session cookie.
func TokenFromRequest(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireModerator rejects requests without a live session.
func RequireModerator(gate *session.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !authorize(c, gate) {
				return echo.NewHTTPError(http.StatusUnauthorized, "moderator session required")
			}
			return next(c)
		}
	}
}

// IdentifyModerator marks the request when a valid session is present but never rejects it.
func IdentifyModerator(gate *session.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authorize(c, gate)
			return next(c)
		}
	}
}

func IsModerator(c echo.Context) bool {
	ok, _ := c.Get(moderatorKey).(bool)
	return ok
}

func authorize(c echo.Context, gate *session.Gate) bool {
	err := gate.Authorize(c.Request().Context(), TokenFromRequest(c))
	if err != nil {
		if !errors.Is(err, session.ErrUnauthorized) {
			slog.Error("authorize: session lookup failed", "error", err)
		}
		return false
	}
	c.Set(moderatorKey, true)
	return true
}

// LoginRateLimiter throttles login attempts per client IP.
func LoginRateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = 10
	}
	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     perMinute,
		ExpiresIn: 10 * time.Minute,
	})
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts")
		},
	})
}

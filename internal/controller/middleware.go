package controller

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/service"
)

const (
	UserContextKey       = "user"
	AccessClaimsKey      = "access_claims"
	RefreshSessionCtxKey = "refresh_session"
	CSRFContextKey       = "csrf"

	msgNotAuthenticated = "Authentication credentials were not provided."
)

// Throttler is the rate-limit gate consulted before throttled handlers run.
type Throttler interface {
	Allow(ctx context.Context, scope, ident string) (bool, time.Duration, error)
}

// accessAuth authenticates the access cookie if present. Without it the request stays anonymous.
func (c *Controller) accessAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token, ok := c.transport.AccessToken(ctx.Request())
		if !ok {
			return next(ctx)
		}

		user, claims, err := c.authService.AuthenticateAccess(ctx.Request().Context(), token)
		if err != nil {
			return err
		}
		ctx.Set(UserContextKey, user)
		ctx.Set(AccessClaimsKey, claims)
		return next(ctx)
	}
}

// refreshAuth authenticates the signed refresh cookie if present.
func (c *Controller) refreshAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		key, ok := c.transport.RefreshKey(ctx.Request(), c.authService.Now())
		if !ok {
			return next(ctx)
		}

		user, session, err := c.authService.AuthenticateRefresh(ctx.Request().Context(), key)
		if err != nil {
			return err
		}
		ctx.Set(UserContextKey, user)
		ctx.Set(RefreshSessionCtxKey, session)
		return next(ctx)
	}
}

// requireAuthenticated rejects anonymous requests with 401.
func requireAuthenticated(realm service.Realm) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, ok := ctx.Get(UserContextKey).(*models.User); !ok {
				ctx.Response().Header().Set(echo.HeaderWWWAuthenticate, fmt.Sprintf("Cookie realm=%q", string(realm)))
				return echo.NewHTTPError(http.StatusUnauthorized, msgNotAuthenticated)
			}
			return next(ctx)
		}
	}
}

// throttle consults the rate-limit gate for scope, keyed by client IP.
func (c *Controller) throttle(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c.throttler == nil {
				return next(ctx)
			}

			allowed, retryAfter, err := c.throttler.Allow(ctx.Request().Context(), scope, ctx.RealIP())
			if err != nil {
				c.zapLogger.Errorw("Throttle unavailable, letting request through", "scope", scope, "error", err)
				return next(ctx)
			}
			if !allowed {
				c.metrics.Throttled.WithLabelValues(scope).Inc()
				seconds := int(math.Ceil(retryAfter.Seconds()))
				ctx.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(seconds))
				return echo.NewHTTPError(http.StatusTooManyRequests,
					fmt.Sprintf("Request was throttled. Expected available in %d seconds.", seconds))
			}
			return next(ctx)
		}
	}
}

func currentUser(ctx echo.Context) *models.User {
	user, _ := ctx.Get(UserContextKey).(*models.User)
	return user
}

func currentSession(ctx echo.Context) *models.RefreshSession {
	session, _ := ctx.Get(RefreshSessionCtxKey).(*models.RefreshSession)
	return session
}

func clientMetadata(ctx echo.Context) models.ClientMetadata {
	req := ctx.Request()
	return models.ClientMetadata{
		UserAgent:  req.UserAgent(),
		RemoteAddr: ctx.RealIP(),
		RemoteHost: req.Header.Get("X-Forwarded-Host"),
	}
}

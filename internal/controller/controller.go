package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/cookie"
	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/service"
)

type Controller struct {
	zapLogger      *zap.SugaredLogger
	authService    *service.AuthService
	accountService *service.AccountService
	transport      *cookie.Transport
	throttler      Throttler
	metrics        *metrics.Metrics
}

func NewController(
	logger *zap.SugaredLogger,
	authService *service.AuthService,
	accountService *service.AccountService,
	transport *cookie.Transport,
	throttler Throttler,
	m *metrics.Metrics,
) *Controller {
	return &Controller{
		zapLogger:      logger,
		authService:    authService,
		accountService: accountService,
		transport:      transport,
		throttler:      throttler,
		metrics:        m,
	}
}

// RegisterHandlers wires every handler with its authentication and throttle middleware.
func RegisterHandlers(router *echo.Group, c *Controller) {
	needAccess := []echo.MiddlewareFunc{c.accessAuth, requireAuthenticated(service.RealmAccess)}
	needRefresh := []echo.MiddlewareFunc{c.refreshAuth, requireAuthenticated(service.RealmRefresh)}

	router.GET("/ping", c.CheckServer)

	router.GET("/auth/login", c.LoginForm)
	router.POST("/auth/login", c.Login, c.throttle("login"))
	router.POST("/auth/refresh", c.Refresh, append([]echo.MiddlewareFunc{c.throttle("refresh")}, needRefresh...)...)
	router.POST("/auth/logout", c.Logout, needRefresh...)
	router.GET("/auth/sessions", c.Sessions, needAccess...)

	router.POST("/register", c.Register, c.throttle("register"))
	router.GET("/register/check_username", c.CheckUsername, c.throttle("check"))
	router.GET("/register/check_email", c.CheckEmail, c.throttle("check"))
	router.POST("/register/confirm_email", c.ConfirmEmail, c.throttle("activate_account"))
	router.POST("/register/send_confirm_email", c.SendConfirmEmail, c.throttle("activate_account"))

	router.POST("/helpers/forgot_password", c.ForgotPassword, c.throttle("reset_password"))
	router.POST("/helpers/reset_password", c.ResetPassword, c.throttle("reset_password"))

	router.GET("/user", c.CurrentUser, needAccess...)
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (GET /api/auth/login). The CSRF middleware has already set its cookie by the time this runs.
func (c *Controller) LoginForm(ctx echo.Context) error {
	token, _ := ctx.Get(CSRFContextKey).(string)
	return ctx.JSON(http.StatusOK, map[string]string{"csrf_token": token})
}

// (POST /api/auth/login).
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	user, err := c.authService.CheckCredentials(ctx.Request().Context(), req)
	if err != nil {
		return err
	}

	creds, err := c.authService.Login(ctx.Request().Context(), user, clientMetadata(ctx))
	if err != nil {
		return err
	}
	return c.writeCredentials(ctx, creds)
}

// (POST /api/auth/refresh).
func (c *Controller) Refresh(ctx echo.Context) error {
	creds, err := c.authService.Refresh(ctx.Request().Context(), currentUser(ctx), currentSession(ctx), clientMetadata(ctx))
	if err != nil {
		return err
	}
	return c.writeCredentials(ctx, creds)
}

// (POST /api/auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	if err := c.authService.Logout(ctx.Request().Context(), currentSession(ctx)); err != nil {
		return err
	}
	c.transport.Clear(ctx.Response())
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "Logged out."})
}

// (GET /api/auth/sessions).
func (c *Controller) Sessions(ctx echo.Context) error {
	sessions, err := c.authService.ListSessions(ctx.Request().Context(), currentUser(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// (POST /api/register).
func (c *Controller) Register(ctx echo.Context) error {
	var req models.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if _, err := c.accountService.Register(ctx.Request().Context(), req); err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, models.MessageResponse{Message: "Please check email to confirm your registration."})
}

// (GET /api/register/check_username).
func (c *Controller) CheckUsername(ctx echo.Context) error {
	exists, err := c.accountService.CheckUsername(ctx.Request().Context(), ctx.QueryParam("username"))
	if err != nil {
		return err
	}
	return existsResponse(ctx, exists)
}

// (GET /api/register/check_email).
func (c *Controller) CheckEmail(ctx echo.Context) error {
	exists, err := c.accountService.CheckEmail(ctx.Request().Context(), ctx.QueryParam("email"))
	if err != nil {
		return err
	}
	return existsResponse(ctx, exists)
}

// (POST /api/register/confirm_email).
func (c *Controller) ConfirmEmail(ctx echo.Context) error {
	var req models.TokenRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if _, err := c.accountService.ConfirmEmail(ctx.Request().Context(), req.Token); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "Email confirmed."})
}

// (POST /api/register/send_confirm_email).
func (c *Controller) SendConfirmEmail(ctx echo.Context) error {
	var req models.EmailRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if err := c.accountService.SendConfirmEmail(ctx.Request().Context(), req.Email); err != nil {
		return err
	}
	return ctx.JSON(http.StatusAccepted, models.MessageResponse{Message: "Confirmation email sent."})
}

// (POST /api/helpers/forgot_password).
func (c *Controller) ForgotPassword(ctx echo.Context) error {
	var req models.EmailRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	info := service.RequestInfo{
		Host:      ctx.Request().Host,
		UserAgent: ctx.Request().UserAgent(),
	}
	if err := c.accountService.ForgotPassword(ctx.Request().Context(), req.Email, info); err != nil {
		return err
	}
	return ctx.JSON(http.StatusAccepted, models.MessageResponse{Message: "Password reset email sent."})
}

// (POST /api/helpers/reset_password).
func (c *Controller) ResetPassword(ctx echo.Context) error {
	var req models.ResetPasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if err := c.accountService.ResetPassword(ctx.Request().Context(), req); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// (GET /api/user).
func (c *Controller) CurrentUser(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, currentUser(ctx))
}

func (c *Controller) writeCredentials(ctx echo.Context, creds *service.Credentials) error {
	c.transport.SetCredentials(ctx.Response(), creds, c.authService.Now())
	return ctx.JSON(http.StatusOK, models.TokenExpiryResponse{
		AccessCookieExpiration:  creds.AccessClaims.Expiry(),
		RefreshCookieExpiration: creds.Session.ExpiresAt,
	})
}

func existsResponse(ctx echo.Context, exists bool) error {
	status := http.StatusOK
	if !exists {
		status = http.StatusNotFound
	}
	return ctx.JSON(status, models.ExistsResponse{Exists: exists})
}

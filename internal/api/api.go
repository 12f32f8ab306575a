package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/controller"
	"github.com/rryowa/cookie_auth/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
)

type API struct {
	server          *echo.Echo
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
}

// NewAPI builds the echo server with every route registered. Pass a nil gatherer to skip /metrics.
func NewAPI(
	c *controller.Controller,
	l *zap.SugaredLogger,
	sc *util.ServerConfig,
	cc *util.CookieConfig,
	gatherer prometheus.Gatherer,
) (*API, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	swagger, err := controller.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI specification: %w", err)
	}
	swagger.Servers = nil

	e.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(l)))
	e.Use(echomiddleware.Recover())
	if sc.CSRFEnabled {
		e.Use(echomiddleware.CSRFWithConfig(GetCSRFMiddlewareConfig(cc)))
	}

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/api")
	g.Use(middleware.OapiRequestValidator(swagger))
	controller.RegisterHandlers(g, c)

	return &API{
		server:          e,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
	}, nil
}

// Handler exposes the router, mostly for httptest.
func (a *API) Handler() http.Handler {
	return a.server
}

// Run serves until SIGINT, SIGTERM or ctx cancellation, then shuts down gracefully.
func (a *API) Run(ctxBackground context.Context) error {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info("Shutting down server...")

	timeout := shutdownTimeout
	if a.gracefulTimeout > 0 {
		timeout = a.gracefulTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
		return err
	}
	a.log.Info("server shutdown completed")
	return nil
}

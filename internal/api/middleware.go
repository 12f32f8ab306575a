package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/controller"
	"github.com/rryowa/cookie_auth/internal/util"
)

const (
	CSRFCookieName = "csrftoken"
	CSRFHeaderName = "X-CSRFToken"
)

func GetLoggerMiddlewareConfig(log *zap.SugaredLogger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogError:    true,
		LogLatency:  true,
		LogRemoteIP: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"remoteIP", v.RemoteIP,
				"latency", v.Latency,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
				log.Errorw("Request", fields...)
			} else {
				log.Infow("Request", fields...)
			}
			return nil
		},
	}
}

// GetCSRFMiddlewareConfig sets up the double-submit cookie check for unsafe methods.
// The cookie is readable by scripts so the frontend can echo it in the header.
func GetCSRFMiddlewareConfig(cc *util.CookieConfig) echomiddleware.CSRFConfig {
	return echomiddleware.CSRFConfig{
		TokenLookup:    "header:" + CSRFHeaderName,
		ContextKey:     controller.CSRFContextKey,
		CookieName:     CSRFCookieName,
		CookiePath:     "/",
		CookieSecure:   cc.Secure,
		CookieSameSite: cc.SameSite,
		CookieHTTPOnly: false,
		ErrorHandler: func(_ error, _ echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "CSRF Failed: CSRF token missing or incorrect.")
		},
	}
}

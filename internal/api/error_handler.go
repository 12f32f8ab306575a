package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/service"
	"github.com/rryowa/cookie_auth/internal/util"
)

// Every authentication failure looks the same to the client; the code only reaches logs and metrics.
const msgAuthFailed = "Authentication credentials were not provided or are invalid."

func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			authErr       *service.AuthError
			validationErr *service.ValidationError
			respErr       util.MyResponseError
			he            *echo.HTTPError
		)

		switch {
		case errors.As(err, &authErr):
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, fmt.Sprintf("Cookie realm=%q", string(authErr.Realm)))
			writeJSON(c, log, http.StatusUnauthorized, map[string]string{"reason": msgAuthFailed})
		case errors.As(err, &validationErr):
			writeJSON(c, log, http.StatusBadRequest, validationErr.Fields)
		case errors.As(err, &respErr):
			writeJSON(c, log, respErr.Status, map[string]string{"reason": respErr.Msg})
		case errors.As(err, &he):
			if he.Code >= http.StatusInternalServerError {
				log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
			}
			writeJSON(c, log, he.Code, map[string]string{"reason": fmt.Sprint(he.Message)})
		default:
			log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
			writeJSON(c, log, http.StatusInternalServerError, map[string]string{"reason": "internal server error"})
		}
	}
}

func writeJSON(c echo.Context, log *zap.SugaredLogger, status int, body interface{}) {
	if c.Request().Method == http.MethodHead {
		if err := c.NoContent(status); err != nil {
			log.Errorw("failed to write response", "error", err)
		}
		return
	}
	if err := c.JSON(status, body); err != nil {
		log.Errorw("failed to write json response", "error", err)
	}
}

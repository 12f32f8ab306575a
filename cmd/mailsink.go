package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/util"
)

// NewMailSinkCmd creates a local mail relay that only logs what it receives.
func NewMailSinkCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "mailsink",
		Short: "Run a development mail relay that logs every email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := util.NewZapLogger()
			defer func() { _ = logger.Sync() }()

			e := echo.New()
			e.HideBanner = true
			e.POST("/", func(c echo.Context) error {
				var task models.EmailTask
				if err := c.Bind(&task); err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "Error parsing JSON")
				}

				logger.Infow("Received email",
					"to", task.To,
					"subject", task.Subject,
					"text", task.Text,
				)
				return c.String(http.StatusOK, "Email received!")
			})

			logger.Infof("Mail sink listening on %s", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	return cmd
}

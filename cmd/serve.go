package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/api"
	"github.com/rryowa/cookie_auth/internal/controller"
	"github.com/rryowa/cookie_auth/internal/cookie"
	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/migrations"
	"github.com/rryowa/cookie_auth/internal/service"
	"github.com/rryowa/cookie_auth/internal/storage"
	"github.com/rryowa/cookie_auth/internal/storage/memory"
	"github.com/rryowa/cookie_auth/internal/storage/postgres"
	redisstore "github.com/rryowa/cookie_auth/internal/storage/redis"
	"github.com/rryowa/cookie_auth/internal/util"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var (
		inMemory bool
		migrate  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. With --in-memory the service keeps everything in process
memory, sends email synchronously to the relay and does not throttle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := util.NewZapLogger()
			defer func() { _ = logger.Sync() }()

			var (
				store      storage.Storage
				dispatcher service.TaskDispatcher
				throttler  controller.Throttler
				cleanups   []func()
			)
			defer func() {
				for _, cleanup := range cleanups {
					cleanup()
				}
			}()

			mailCfg := util.NewMailConfig()

			if inMemory {
				logger.Warn("Running with in-memory storage, nothing survives a restart")
				store = memory.NewStorage(logger)
				dispatcher = service.NewMailRelay(logger, mailCfg.RelayURL)
			} else {
				db, dbCleanup, err := util.NewDBConnection(logger, util.NewDBConfig())
				if err != nil {
					return err
				}
				cleanups = append(cleanups, dbCleanup)
				if migrate {
					if err := migrations.RunMigrations(db, logger); err != nil {
						return err
					}
				}

				redisClient, redisCleanup, err := util.NewRedisClient(logger, util.NewRedisConfig())
				if err != nil {
					return err
				}
				cleanups = append(cleanups, redisCleanup)

				store = postgres.NewStorage(db)
				dispatcher = redisstore.NewTaskQueue(redisClient, mailCfg.Queue)
				throttler = redisstore.NewThrottle(redisClient, util.NewThrottleConfig())
			}

			server, err := buildAPI(logger, store, dispatcher, throttler)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep users and sessions in memory instead of postgres")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")

	return cmd
}

func buildAPI(
	logger *zap.SugaredLogger,
	store storage.Storage,
	dispatcher service.TaskDispatcher,
	throttler controller.Throttler,
) (*api.API, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tokenCfg := util.NewTokenConfig()
	cookieCfg := util.NewCookieConfig(tokenCfg.RefreshTTL)
	accountCfg := util.NewAccountConfig()

	hasher, err := service.NewPasswordHasher(accountCfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	tokenService := service.NewTokenService(tokenCfg)
	sessionService := service.NewSessionService(store, tokenCfg.RefreshTTL)
	authService := service.NewAuthService(store, sessionService, tokenService, hasher, m, logger)
	mailService := service.NewMailService(dispatcher, m)
	accountService := service.NewAccountService(store, hasher, mailService, accountCfg, logger)

	transport := cookie.NewTransport(cookieCfg, service.NewSigner(cookieCfg.SigningKey))
	ctrl := controller.NewController(logger, authService, accountService, transport, throttler, m)

	return api.NewAPI(ctrl, logger, util.NewServerConfig(), cookieCfg, registry)
}

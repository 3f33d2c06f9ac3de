package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/mail"
	"github.com/platinummonkey/gatekeeper/pkg/maintenance"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

const usage = `usage: gatekeeper [serve|migrate|seed|run-job] [flags]

  serve     run the API server and maintenance jobs (default)
  migrate   apply database migrations and exit
  seed      migrate, seed the role catalogue and optionally create an admin
  run-job   run one maintenance job once and exit
`

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	switch command {
	case "serve":
		err = serve(cfg, logger)
	case "migrate":
		err = migrate(cfg, logger)
	case "seed":
		err = seed(cfg, logger, args)
	case "run-job":
		err = runJob(cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.WithError(err).WithField("command", command).Error("Command failed")
		os.Exit(1)
	}
}

func connect(cfg *config.Config, logger *observability.Logger) (*postgres.ConnectionManager, error) {
	return postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.PrimaryURL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
}

func migrate(cfg *config.Config, logger *observability.Logger) error {
	conns, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer conns.Close()

	return postgres.Migrate(context.Background(), conns.Primary(), logger)
}

func seed(cfg *config.Config, logger *observability.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	adminEmail := fs.String("admin-email", os.Getenv("GATEKEEPER_ADMIN_EMAIL"), "Email of the bootstrap administrator (optional)")
	adminUsername := fs.String("admin-username", getEnv("GATEKEEPER_ADMIN_USERNAME", "admin"), "Username of the bootstrap administrator")
	adminPassword := fs.String("admin-password", os.Getenv("GATEKEEPER_ADMIN_PASSWORD"), "Password of the bootstrap administrator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	conns, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer conns.Close()
	db := conns.Primary()

	if err := postgres.Migrate(ctx, db, logger); err != nil {
		return err
	}

	catalogue, err := rbac.DefaultCatalogue()
	if err != nil {
		return err
	}
	roles := rbac.NewStore(db)
	result, err := rbac.Seed(ctx, roles, catalogue)
	if err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	for name, count := range result.Roles {
		logger.WithFields(map[string]interface{}{"role": name, "permissions": count}).Info("Role seeded")
	}
	logger.Infof("Seeded %d permissions", result.Permissions)

	if *adminEmail == "" {
		return nil
	}
	return ensureAdmin(ctx, auth.NewUserStore(db), roles, *adminEmail, *adminUsername, *adminPassword, logger)
}

func ensureAdmin(ctx context.Context, store *auth.UserStore, roles *rbac.Store, email, username, password string, logger *observability.Logger) error {
	user, err := store.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		if err := auth.ValidatePassword(password); err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		user = &auth.User{Email: email, Username: username, PasswordHash: hash, EmailVerified: true}
		if err := store.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		logger.WithField("email", email).Info("Admin user created")
	case err != nil:
		return err
	}

	admin, err := roles.GetRoleByName(ctx, rbac.RoleAdmin)
	if err != nil {
		return err
	}
	if _, err := roles.AssignRole(ctx, user.ID, admin.ID, ""); err != nil && !errors.Is(err, rbac.ErrAlreadyAssigned) {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}
	return nil
}

// app holds everything serve and run-job share
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	conns     *postgres.ConnectionManager
	redis     *redis.Client
	mailPool  *async.Pool
	roles     *rbac.Store
	userStore *auth.UserStore
	sessions  *auth.Sessions
	recorder  *audit.Recorder
	reader    *audit.Reader
	exporter  *audit.Exporter
	authSvc   *auth.Service
	creds     *auth.Credentials
	users     *users.Service
	scheduler *maintenance.Scheduler
}

func build(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	conns, err := connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.conns = conns
	db := conns.Primary()

	if err := postgres.Migrate(ctx, db, logger); err != nil {
		conns.Close()
		return nil, err
	}

	if cfg.Redis.Enabled() {
		client, err := postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			conns.Close()
			return nil, err
		}
		a.redis = client
	}

	provider, err := mail.NewSender(cfg.Mail, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.mailPool = async.NewPool("mail", cfg.Mail.Workers, cfg.Mail.QueueSize, 30*time.Second, logger)
	sender := mail.NewQueuedSender(provider, a.mailPool)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		a.close()
		return nil, err
	}

	a.roles = rbac.NewStore(db)
	catalogue, err := rbac.DefaultCatalogue()
	if err != nil {
		a.close()
		return nil, err
	}
	if _, err := rbac.Seed(ctx, a.roles, catalogue); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to seed roles: %w", err)
	}

	a.userStore = auth.NewUserStore(db)
	a.sessions = auth.NewSessions(db, tokens.RefreshTTL())
	a.recorder = audit.NewRecorder(db, logger, a.metrics)
	a.reader = audit.NewReader(conns.Replica())
	a.exporter = audit.NewExporter(a.reader)

	a.authSvc = auth.NewService(a.userStore, a.sessions, tokens, a.roles, a.recorder, sender, a.metrics, auth.Options{
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
		FrontendOrigin:           cfg.Auth.FrontendOrigin,
	})
	a.creds = auth.NewCredentials(db, a.userStore, a.sessions, a.recorder, sender, a.metrics, auth.CredentialOptions{
		FrontendOrigin:   cfg.Auth.FrontendOrigin,
		ResetTTL:         cfg.Auth.ResetTTL,
		ExposeResetLinks: cfg.IsDevelopment(),
	})
	a.users = users.NewService(a.userStore, a.roles, a.recorder)

	a.scheduler = maintenance.NewScheduler(logger, 10*time.Minute)
	deps := maintenance.Dependencies{
		Resets:   a.creds,
		Sessions: a.sessions,
		Pool:     conns,
		Metrics:  a.metrics,
		Logger:   logger,
	}
	if cfg.Maintenance.ArchiveEnabled {
		s3, err := postgres.NewS3Client(ctx, cfg.Maintenance.S3)
		if err != nil {
			a.close()
			return nil, err
		}
		deps.Archiver = audit.NewArchiver(a.exporter, s3, logger)
	}
	if err := maintenance.RegisterJobs(a.scheduler, cfg.Maintenance, deps); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) close() {
	if a.mailPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.mailPool.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to drain mail queue")
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if err := a.conns.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database connections")
	}
}

func (a *app) limitStore() middleware.CounterStore {
	if a.redis != nil {
		return middleware.NewRedisStore(a.redis, "")
	}
	return middleware.NewMemoryStore(a.cfg.RateLimit.LRUSize, maxWindow(a.cfg.RateLimit))
}

func maxWindow(cfg config.RateLimitConfig) time.Duration {
	longest := cfg.APIWindow
	for _, w := range []time.Duration{cfg.LoginWindow, cfg.ResetWindow, cfg.VerificationWindow} {
		if w > longest {
			longest = w
		}
	}
	return longest
}

func serve(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()
	httputil.SetExposeInternalErrors(cfg.IsDevelopment())
	if err := httputil.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return err
	}

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	a, err := build(ctx, cfg, logger)
	if err != nil {
		otel.Shutdown(ctx)
		return err
	}

	var serviceName string
	if cfg.Observability.OTelEnabled {
		serviceName = cfg.Observability.OTelServiceName
	}
	server := api.NewServer(api.Dependencies{
		Auth:           a.authSvc,
		Credentials:    a.creds,
		Roles:          a.roles,
		Users:          a.users,
		Recorder:       a.recorder,
		AuditReader:    a.reader,
		Exporter:       a.exporter,
		Limits:         middleware.LimitsFromConfig(cfg.RateLimit),
		LimitStore:     a.limitStore(),
		Logger:         logger,
		Metrics:        a.metrics,
		AllowedOrigins: []string{cfg.Auth.FrontendOrigin},
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ServiceName:    serviceName,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(a.conns.Primary(), a.redis, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, a.registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("otel", otel.Shutdown)
	shutdown.Register("database", func(context.Context) error { return a.conns.Close() })
	if a.redis != nil {
		shutdown.Register("redis", func(context.Context) error { return a.redis.Close() })
	}
	shutdown.Register("mail", a.mailPool.Shutdown)
	shutdown.Register("scheduler", a.scheduler.Stop)

	a.scheduler.Start()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return shutdown.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runJob(cfg *config.Config, logger *observability.Logger, args []string) error {
	fs := flag.NewFlagSet("run-job", flag.ExitOnError)
	name := fs.String("job", "", "Job to run: "+maintenance.JobPurgeResets+", "+maintenance.JobSweepSessions+", "+
		maintenance.JobArchiveAudit+" or "+maintenance.JobDBHealth)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errors.New("-job is required")
	}

	ctx := context.Background()
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.scheduler.RunNow(ctx, *name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

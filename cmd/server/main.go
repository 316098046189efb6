package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-gate/auth"
	"github.com/jrsteele09/go-auth-gate/identity"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/internal/database"
	"github.com/jrsteele09/go-auth-gate/server"
	"github.com/jrsteele09/go-auth-gate/server/authflowrepo"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/sessions/memstore"
	"github.com/jrsteele09/go-auth-gate/sessions/pgstore"
	"github.com/jrsteele09/go-auth-gate/sessions/redisstore"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"github.com/jrsteele09/go-auth-gate/users"
	"github.com/jrsteele09/go-auth-gate/users/pgrepo"
	"github.com/jrsteele09/go-auth-gate/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sessionPruneInterval = 15 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	c := config.New()
	setupLogging(c.GetEnv())

	if err := run(c); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repos, closeRepos, err := buildRepos(ctx, c)
	if err != nil {
		return err
	}
	defer closeRepos()

	registry, provider, err := buildProvider(c, reg)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(c, registry, provider, repos, auth.WithMetrics(auth.NewMetrics(reg)))
	if err != nil {
		return fmt.Errorf("[run] %w", err)
	}

	handler, err := server.New(c, authService, server.WithGatherer(reg))
	if err != nil {
		return fmt.Errorf("[run] %w", err)
	}

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return shutdown(srv)
}

// buildProvider returns nil, nil when the provider is not configured; every
// login then takes the demo path.
func buildProvider(c config.Config, reg prometheus.Registerer) (*strategy.Registry, auth.IdentityProvider, error) {
	if !c.IsOIDCConfigured() {
		log.Warn().Msg("REPLIT_DOMAINS or REPL_ID not set - running in demo-only mode")
		return nil, nil, nil
	}

	registry, err := strategy.NewRegistry(strategy.DefaultProvider, c.GetTrustedDomains())
	if err != nil {
		return nil, nil, fmt.Errorf("[buildProvider] %w", err)
	}
	log.Info().Strs("domains", registry.Domains()).Str("issuer", c.GetIssuerURL()).Msg("auth strategies registered")

	discovery := identity.NewDiscovery(c.GetIssuerURL(), c.GetDiscoveryTTL(),
		identity.WithDiscoveryTimeout(c.GetProviderTimeout()),
		identity.WithDiscoveryMetrics(identity.NewMetrics(reg)),
	)
	client := identity.NewClient(c.GetClientID(),
		identity.WithClientSecret(c.GetClientSecret()),
		identity.WithTimeout(c.GetProviderTimeout()),
	)
	return registry, auth.NewOIDCProvider(discovery, client), nil
}

func buildRepos(ctx context.Context, c config.Config) (auth.Repos, func(), error) {
	var (
		db       *sql.DB
		err      error
		closers  []func()
		userRepo users.Repo = repofake.NewFakeUserRepo()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn := c.GetDatabaseURL(); dsn != "" {
		db, err = database.Open(ctx, dsn, database.DefaultPoolConfig())
		if err != nil {
			return auth.Repos{}, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		userRepo = pgrepo.New(db)
	}

	flowTTL := authflowrepo.WithTTL(c.GetFlowStateTTL())
	var (
		store sessions.Repo
		flows authflowrepo.Repo
	)
	switch c.GetSessionStore() {
	case config.SessionStorePostgres:
		if db == nil {
			closeAll()
			return auth.Repos{}, nil, errors.New("[buildRepos] SESSION_STORE=postgres requires DATABASE_URL")
		}
		pg := pgstore.New(db, pgstore.DefaultTable)
		pg.StartPruning(ctx, sessionPruneInterval)
		store = pg
		flows = authflowrepo.NewPostgresRepo(db, authflowrepo.DefaultPostgresTable, flowTTL)
	case config.SessionStoreRedis:
		rs, err := redisstore.NewFromURL(c.GetRedisURL())
		if err != nil {
			closeAll()
			return auth.Repos{}, nil, err
		}
		closers = append(closers, func() { _ = rs.Close() })
		store = rs
		flows = authflowrepo.NewRedisRepo(rs.Client(), flowTTL)
	case config.SessionStoreMemory:
		log.Warn().Msg("using in-memory session store - sessions are lost on restart")
		store = memstore.New()
		flows = authflowrepo.NewInMemoryRepo(flowTTL)
	default:
		closeAll()
		return auth.Repos{}, nil, fmt.Errorf("[buildRepos] unknown SESSION_STORE %q", c.GetSessionStore())
	}
	log.Info().Str("store", c.GetSessionStore()).Msg("session store ready")

	return auth.Repos{
		Sessions: store,
		Users:    userRepo,
		Flows:    flows,
	}, closeAll, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

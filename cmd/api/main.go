package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/resetflow"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/viewer"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/web"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	addr := pflag.String("addr", "", "listen address (overrides config)")
	pflag.Parse()

	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-account-go")

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	sqlxDB, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlxDB.Close()

	// flow store: redis when configured, otherwise in process
	var flows resetflow.FlowStore
	health := sqlxDB.PingContext
	if cfg.RedisURL != "" {
		rdb, err := resetflow.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("redis connect: %v", err)
		}
		defer rdb.Close()
		flows = resetflow.NewRedisFlowStore(rdb)
		health = func(ctx context.Context) error {
			if err := sqlxDB.PingContext(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	} else {
		sugar.Warn("REDIS_URL not set; reset flows are kept in memory")
		flows = resetflow.NewMemoryFlowStore()
	}

	var key *rsa.PrivateKey
	if cfg.SigningKeyFile != "" {
		if key, err = session.LoadSigningKey(cfg.SigningKeyFile); err != nil {
			sugar.Fatalf("load signing key: %v", err)
		}
	} else {
		sugar.Warn("no session signing key configured; sessions will not survive a restart")
	}
	cookiePath := cfg.BasePath
	if cookiePath == "" {
		cookiePath = "/"
	}
	sessions, err := session.NewService(sessionrepo.NewSessionRepo(sqlxDB), session.Options{
		Issuer:     cfg.Issuer,
		TTL:        cfg.SessionTTL,
		CookieName: cfg.SessionCookie,
		CookiePath: cookiePath,
		Secure:     cfg.SecureCookies,
		Key:        key,
	})
	if err != nil {
		sugar.Fatalf("init sessions: %v", err)
	}

	users := user.NewUserService(userrepo.NewUserRepo(sqlxDB), user.BcryptHasher{Cost: cfg.BcryptCost})
	viewers := viewer.NewResolver(sessions, users)

	pages, err := web.NewRenderer(sugar)
	if err != nil {
		sugar.Fatalf("parse templates: %v", err)
	}

	resetDeps := resetflow.Deps{
		Viewers:  viewers,
		Store:    flows,
		Gate:     resetflow.NewGate(flows, users, utilities.NewSnowflakeID, sugar),
		Signaler: resetflow.NewSignaler(sugar),
		FlowTTL:  cfg.FlowTTL,
		NewID:    utilities.NewKSUID,
		Logger:   sugar,
	}

	// mount http server
	handler := router.RegisterRoutes(router.Deps{
		Logger:    sugar,
		BasePath:  cfg.BasePath,
		Pages:     pages,
		Home:      web.NewHomeHandler(pages, viewers, cfg.BasePath, sugar),
		Users:     user.NewHandler(users, sessions, sugar),
		Sessions:  sessions,
		Logout:    session.NewHandler(sessions, sugar),
		ResetFlow: resetflow.NewHandler(resetDeps, pages, cfg.BasePath, sugar),
		Health:    health,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// in-flight reset mutations are detached from their request, so give
	// them room to record their outcome
	doneCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

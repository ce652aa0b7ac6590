package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/config"
	sessionrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	createUser := pflag.String("create-user", "", "username to create after migrating")
	email := pflag.String("email", "", "email for --create-user")
	password := pflag.String("password", "", "password for --create-user (defaults to $ACCOUNT_SEED_PASSWORD)")
	userType := pflag.String("user-type", "", "user_type for --create-user, e.g. service")
	pflag.Parse()

	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-account-go migrations")

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	sqlxDB, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlxDB.Close()

	users := userrepo.NewUserRepo(sqlxDB)
	if err := users.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure users table: %v", err)
	}
	if err := sessionrepo.NewSessionRepo(sqlxDB).EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure browser_sessions table: %v", err)
	}
	sugar.Info("tables ready")

	if *createUser == "" {
		return
	}
	pw := *password
	if pw == "" {
		pw = os.Getenv("ACCOUNT_SEED_PASSWORD")
	}
	svc := user.NewUserService(users, user.BcryptHasher{Cost: cfg.BcryptCost})
	id, err := svc.SignupUser(ctx, *createUser, *email, pw, *userType)
	if err != nil {
		sugar.Fatalf("create user %q: %v", *createUser, err)
	}
	sugar.Infow("user created", "username", *createUser, "id", user.NodeID(id))
}

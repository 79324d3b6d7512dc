// Package admincli implements the administrative command line tool: schema
// migrations and account management against the server database.
package admincli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/webmail/internal/logging"
	"github.com/dmitrijs2005/webmail/internal/server/config"
	"github.com/dmitrijs2005/webmail/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/webmail/internal/server/services"
)

const usage = `usage: webmail-admin <command> [flags]

commands:
  migrate            apply database migrations
  create-user        register an account (-email, -first, -last; password is prompted)
  deactivate-user    disable an account (-email)
`

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	repos  repomanager.RepositoryManager
	users  *services.UserService
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	users := services.NewUserService(db, repos, logger, cfg)

	return &App{config: cfg, logger: logger, db: db, repos: repos, users: users}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// Run dispatches one subcommand. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	switch cmd := args[0]; cmd {
	case "migrate":
		return a.runMigrate(ctx)
	case "create-user":
		return a.runCreateUser(ctx, args[1:])
	case "deactivate-user":
		return a.runDeactivateUser(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func (a *App) runMigrate(ctx context.Context) error {
	if err := a.repos.RunMigrations(ctx, a.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func (a *App) runCreateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	user, err := a.users.Register(ctx, &services.RegisterRequest{
		Email:     *email,
		Password:  password,
		FirstName: *first,
		LastName:  *last,
	})
	if err != nil {
		return err
	}

	fmt.Printf("created user %s (%s)\n", user.Email, user.ID)
	return nil
}

func (a *App) runDeactivateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deactivate-user", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	user, err := a.users.GetUserByEmail(ctx, *email)
	if err != nil {
		return err
	}

	user.Active = false
	if err := a.repos.Users(a.db).Update(ctx, user); err != nil {
		return err
	}

	fmt.Printf("deactivated user %s\n", user.Email)
	return nil
}

package main // Entry point package

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv" // loads .env in development
	"github.com/spf13/cobra"   // command line
	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/config"   // Internal config loader
	"github.com/ahlallah/ahl-allah-server/internal/database" // MySQL connection and migrations
	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/service"
	"github.com/ahlallah/ahl-allah-server/migrations/mysql"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "ahl-allah-server",
		Short:        "Authentication service for the Ahl Allah platform",
		SilenceUsage: true,
	}

	var migrateFirst bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrateFirst)
		},
	}
	serveCmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := boot()
			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return migrate(cmd.Context(), db)
		},
	}

	var promoteEmail string
	promoteCmd := &cobra.Command{
		Use:   "promote",
		Short: "Grant the admin role to an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if promoteEmail == "" {
				return fmt.Errorf("--email is required")
			}
			cfg := boot()
			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			users := repository.NewUserRepo(db)
			u, err := users.GetByEmail(cmd.Context(), promoteEmail)
			if err != nil {
				return fmt.Errorf("find %s: %w", promoteEmail, err)
			}
			auth := service.New(service.Deps{Users: users, Tokens: repository.NewTokenRepo(db), Otps: repository.NewOtpRepo(db)})
			if _, err := auth.UpdateRole(cmd.Context(), u.ID, model.RoleAdmin); err != nil {
				return err
			}
			logger.L().Info("account promoted", zap.String("user_id", u.ID))
			return nil
		},
	}
	promoteCmd.Flags().StringVar(&promoteEmail, "email", "", "email of the account to promote")

	root.AddCommand(serveCmd, migrateCmd, promoteCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// boot loads configuration and initialises the process logger.
func boot() config.Config {
	cfg := config.Load() // Load environment config
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: "ahl-allah-server"})
	return cfg
}

func migrate(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	applied, err := database.Migrate(ctx, db, mysql.FS)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.L().Info("migrations applied", zap.Strings("versions", applied))
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"

	"licensetrack/internal/adapter/postgres"
	"licensetrack/internal/app"
	"licensetrack/internal/config"
	"licensetrack/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "licensetrack",
		Short:         "Professional license and CE tracking dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCreateUserCmd())
	return root
}

// loadConfig reads settings and installs the JSON logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetupDefault(os.Stderr, cfg.LogLevel)
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withMigrator := func(fn func(m *migrate.Migrate) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			m, err := postgres.NewMigrator(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()
			return fn(m)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(m *migrate.Migrate) error {
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return nil
		}),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: withMigrator(func(m *migrate.Migrate) error {
			if steps <= 0 {
				return errors.New("--steps must be positive")
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(m *migrate.Migrate) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("no migrations applied")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty=%t)\n", v, dirty)
			return nil
		}),
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func newCreateUserCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a password user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("LICENSETRACK_PASSWORD")
			}

			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			auth := app.NewAuthService(st.users, st.sessions)
			if err := auth.CreateUser(cmd.Context(), email, password); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", app.NormalizeEmail(email))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "sign-in email")
	cmd.Flags().StringVar(&password, "password", "", "password (or LICENSETRACK_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

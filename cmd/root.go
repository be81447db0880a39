package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/config"
	"github.com/andresmejia3/posecast/internal/logging"
	"github.com/andresmejia3/posecast/internal/store"
)

var (
	// DB is the recording store shared by subcommands. Nil unless the
	// command needs it.
	DB *store.Store
	// cfg is the merged configuration: defaults, then --config, then flags.
	cfg *config.Config
	log *logrus.Logger

	dbURL     string
	cfgFile   string
	logLevel  string
	logFormat string
)

// Annotation values for the "db" key on subcommands.
const (
	dbRequired = "required"
	dbIfRecord = "record"
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "posecast",
	Short:   "Live human pose keypoints from a camera feed",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
		if log, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}

		switch cmd.Annotations["db"] {
		case dbRequired:
			return openDB(cmd.Context())
		case dbIfRecord:
			if cfg.Record.Enabled {
				return openDB(cmd.Context())
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/posecast)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")
}

// loadConfig reads --config over the defaults, then applies explicitly set
// flags of the running command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if cfgFile != "" {
		var err error
		if c, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}

	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat != "" {
		c.Log.Format = logFormat
	}
	if dbURL != "" {
		c.Record.DatabaseURL = dbURL
	}
	if err := applyFlags(cmd, c); err != nil {
		return nil, err
	}

	if err := config.Validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// resolveDBURL picks the connection string: explicit value, then POSTGRES_*
// environment variables, then the local default.
func resolveDBURL(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/posecast"
}

func openDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, resolveDBURL(cfg.Record.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

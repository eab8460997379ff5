package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/config"
	"github.com/jackzampolin/swaggerfix/internal/home"
	"github.com/jackzampolin/swaggerfix/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the swaggerfix server",
	Long: `Start the swaggerfix HTTP server.

The server opens the SQLite database in the home directory and watches the
config file; provider and pipeline changes apply without a restart.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (store and default LLM provider)
  - /swagger - API documentation

Examples:
  swaggerfix serve                    # Start on default port 8080
  swaggerfix serve --port 3000        # Start on custom port
  swaggerfix serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cm, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// loadConfig loads .env files from the working directory and the home
// directory, then reads the config file.
func loadConfig(h *home.Dir, logger *slog.Logger) (*config.Manager, error) {
	loaded, err := config.LoadEnvFiles(".env", h.EnvPath())
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		logger.Info("loaded env file", "path", p)
	}

	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	if f := cm.ConfigFile(); f != "" {
		logger.Info("loaded config", "path", f)
	} else {
		logger.Info("no config file found, using defaults")
	}
	return cm, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}

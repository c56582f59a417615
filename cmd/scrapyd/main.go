// Package main implements the scrapyd daemon: an HTTP control service
// that stores versioned spider bundles, queues crawl jobs, and runs them
// as supervised subprocesses.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/platform/logger"
)

var (
	flagConfigPath string
	flagHashCost   int
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"config file to load - default is scrapyd.yaml in the current directory or /etc/scrapyd")
	hashPasswordCmd.Flags().IntVar(&flagHashCost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hashPasswordCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("scrapyd failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scrapyd",
	Short:        "Run the crawl scheduling daemon",
	SilenceUsage: true,
	RunE:         runDaemon,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hashpasswd [password]",
	Short: "Generate a bcrypt hash for the password_hash setting",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password []byte
		if len(args) == 1 {
			password = []byte(args[0])
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password = bytes.TrimRight(data, "\r\n")
		}
		if len(password) == 0 {
			return fmt.Errorf("password must not be empty")
		}

		hash, err := bcrypt.GenerateFromPassword(password, flagHashCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("scrapyd: version info not available")
			return
		}
		fmt.Printf("scrapyd: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			}
		}
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"bind_address", cfg.Server.BindAddress,
		"http_port", cfg.Server.HTTPPort,
		"node_name", cfg.Server.NodeName,
		"database", cfg.Storage.Database,
		"max_procs", cfg.Launcher.EffectiveMaxProcs())

	app, err := newApplication(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(cmd.Context())
}

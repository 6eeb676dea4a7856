// Package app provides the entry point for the peershare CLI.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/longlephamtien/peershare/coordinator"
)

var rootCmd = &cobra.Command{
	Use:               "peershare",
	DisableAutoGenTag: true,
	Short:             "Peershare file-sharing client",
	Long: `Peershare tracks local files, publishes them to a coordination server,
and fetches files published by other peers.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "Coordination server base URL")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML)")

	for _, flag := range []string{"server", "debug"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
		}
	}

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(publishedCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(daemonCmd)

	return rootCmd
}

func initConfig() {
	if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(stateDir())
	}
	viper.SetEnvPrefix("PEERSHARE")
	viper.AutomaticEnv()

	viper.SetDefault("timeout", "30s")
	viper.SetDefault("cache_ttl", "30s")
	viper.SetDefault("poll_interval", "500ms")
	viper.SetDefault("server_ip", "127.0.0.1")
	viper.SetDefault("server_port", 9000)

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("loaded config", "file", viper.ConfigFileUsed())
	}

	coordinator.InitLogger(filepath.Join(stateDir(), "logs"))
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "peershare")
}

func coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		BaseURL:      viper.GetString("server"),
		Timeout:      viper.GetDuration("timeout"),
		CacheTTL:     viper.GetDuration("cache_ttl"),
		PollInterval: viper.GetDuration("poll_interval"),
		StateDir:     stateDir(),
	}
}

// buildCoordinator loads the saved session and wires the full client stack.
func buildCoordinator() (*coordinator.Coordinator, error) {
	sess, err := coordinator.LoadSession(coordinator.SessionFilePath())
	if err != nil {
		return nil, fmt.Errorf("not logged in: %w", err)
	}
	if sess.Expired(time.Minute) {
		return nil, fmt.Errorf("session expired, please log in again")
	}
	return coordinator.NewCoordinator(coordinatorConfig(), sess)
}

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/logger"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "refcheck",
	Short: "Data-quality validation for instrument reference data",
	Long: `refcheck validates financial instrument reference data against
layered YAML rule hierarchies.

It serves validations over HTTP and drives scheduled regional sweeps
that persist their results for reporting.`,
	SilenceUsage: true,
}

// exitError carries an explicit process exit code out of a subcommand.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Println(ee.msg)
			}
			return ee.code
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "environment name (overrides REFCHECK_ENV, default dev)")
	rootCmd.PersistentFlags().String("config-dir", "config", "directory holding config_<env>.yaml files")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output")

	_ = viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	_ = viper.BindPFlag("config-dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// setupLogging installs the global logger at the level the flags ask
// for.
func setupLogging() {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelInfo
	}
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	logger.Setup(level)
}

// loadConfig resolves the environment and reads its config file.
func loadConfig() (*config.Config, error) {
	env := config.ResolveEnv(viper.GetString("env"))
	cfg, err := config.Load(viper.GetString("config-dir"), env)
	if err != nil {
		return nil, err
	}
	slog.Info("configuration loaded", "env", env, "backend", cfg.DataLoader.Backend)
	return cfg, nil
}

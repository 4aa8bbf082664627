package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/logging"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "uploadwaf",
	Short:         "Upload-path web application firewall policy engine",
	Long:          `uploadwaf compiles upload-path firewall policies, guards an upload service with them, and renders them as AWS WAFv2 web ACLs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// flagBinding maps a config key to a command flag name.
type flagBinding struct {
	key  string
	flag string
}

var persistentBindings = []flagBinding{
	{"database_url", "db-url"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
}

// loadConfig reads configuration with flags > env > file > defaults
// precedence. Only flags set on the command line take part.
func loadConfig(cmd *cobra.Command, bindings ...flagBinding) (*config.Config, error) {
	v := viper.New()
	all := append(append([]flagBinding{}, persistentBindings...), bindings...)
	for _, b := range all {
		f := lookupFlag(cmd, b.flag)
		if f == nil {
			return nil, fmt.Errorf("unknown flag %q bound to %s", b.flag, b.key)
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", b.flag, err)
		}
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return zerolog.Nop(), err
	}
	return logger.With().Str("service", "uploadwaf").Logger(), nil
}

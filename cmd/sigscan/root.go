package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// envPrefix namespaces environment overrides, e.g. SIGSCAN_OUTPUT.
const envPrefix = "SIGSCAN"

var (
	verbose    bool
	quiet      bool
	configPath string

	// logger is replaced once flags are parsed.
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sigscan",
	Short: "sigscan - byte signature scanner for binary images",
	Long: `sigscan locates code and data in executables, memory dumps and live processes
using byte signatures that can follow call, jump and RIP-relative references.

Signatures are written in a small text language: hex bytes, wildcards, skips,
alternation and reference-following operators.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file with flag defaults")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	if err := applyConfig(cmd.Flags(), configPath); err != nil {
		return err
	}
	l, err := newLogger(verbose, quiet)
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	logger = l
	return nil
}

// applyConfig fills every flag the user did not set from the config file or
// the environment. Explicit flags always win.
func applyConfig(flags *pflag.FlagSet, path string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config %s", path)
		}
	}

	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			firstErr = errors.Wrapf(err, "applying %s", f.Name)
		}
	})
	return firstErr
}

// newLogger builds a console logger on stderr. Quiet wins over verbose.
func newLogger(verbose, quiet bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch {
	case quiet:
		level = zapcore.ErrorLevel
	case verbose:
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

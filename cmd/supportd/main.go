package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	verbose bool
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "supportd",
		Short: "Reflect support desk backend",
		Long:  "Runs the support chat API and the realtime dashboard broadcast server. Without a subcommand both servers run in one process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd, opts, true, true)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(&cobra.Command{
		Use:   "api",
		Short: "Run only the support chat API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd, opts, true, false)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "broadcast",
		Short: "Run only the realtime dashboard broadcast server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd, opts, false, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supportd %s (commit: %s)\n", Version, Commit)
		},
	})
	return cmd
}

// setup 加载 .env 与配置，并构建全局日志。
func setup(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	envErr := godotenv.Load(opts.envFile)

	zcfg := zap.NewProductionConfig()
	if opts.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("dotenv file not loaded, using process environment only",
			zap.String("file", opts.envFile), zap.Error(envErr))
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/risa-org/chatlink/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose   bool
	envFile   string
	addr      string
	transport string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatlink",
	Short: "Chat message dispatch and file transfer",
	Long: `chatlink sends chat messages and files to a chatlink endpoint and can run one.

Settings come from CHATLINK_* environment variables, optionally loaded from a .env file.
Flags override the environment for the command they are given to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = addr
		}
		if cmd.Flags().Changed("transport") {
			cfg.Transport = transport
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		logger, err = newLogger(verbose, cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging at debug level")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "endpoint address (overrides CHATLINK_ADDR)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "tcp, websocket or amqp (overrides CHATLINK_TRANSPORT)")
}

func newLogger(verbose bool, level string) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

package internal

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/libforge/libforge/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "libforge",
	Short: "libforge cross-builds the xiph audio libraries",
	Long: `libforge cross-compiles libogg, libopus, libopusenc and libopusfile
for Apple, Android and Harmony targets and assembles the per-arch
outputs into xcframeworks and per-ABI library trees.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and streamed build tool output")
}

// Execute runs the command tree. Interrupts cancel the command context so
// in-flight unit builds stop at the next process boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		newLogger().Errorf("%v", err)
		os.Exit(1)
	}
}

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return log.Sugar()
}

// loadConfig reads the configuration, writing the defaults first on a
// fresh working directory.
func loadConfig(log *zap.SugaredLogger) (*config.Config, error) {
	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, err
	}
	if created {
		log.Infof("wrote default configuration to %s", configPath)
	}
	return cfg, nil
}

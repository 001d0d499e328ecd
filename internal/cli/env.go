package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"fluxtune/internal/app"
	"fluxtune/internal/infra"
)

// loadConfig reads .env when present and then the process environment.
func loadConfig() (*infra.Config, error) {
	_ = godotenv.Load()
	return infra.LoadConfig()
}

// commandLogger writes to stderr. Interactive commands only surface warnings
// unless verbose is set.
func commandLogger(cfg *infra.Config, verbose bool) *infra.Logger {
	l := infra.NewLogger(cfg.AppEnv, stderr)
	if !verbose {
		l = l.Level(zerolog.WarnLevel)
	}
	return &l
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openRuntime loads configuration and wires the runtime. outputDir overrides
// OUTPUT_DIR when set.
func openRuntime(ctx context.Context, verbose bool, outputDir string) (*app.Runtime, *infra.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	logger := commandLogger(cfg, verbose)
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, logger, nil
}

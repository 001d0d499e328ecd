package app

import (
	"context"
	"time"

	"fluxtune/internal/http/handlers"
	"fluxtune/internal/http/httpapi"
	"fluxtune/internal/infra"
)

// Serve runs the HTTP API until ctx is cancelled, then shuts down gracefully.
// Shutdown waits up to the idle timeout for in-flight job streams.
func Serve(ctx context.Context, cfg *infra.Config, logger *infra.Logger) error {
	if logger == nil {
		logger = infra.NopLogger()
	}
	rt, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	router := httpapi.NewRouter(handlers.NewApp(rt.Orchestrator, logger), httpapi.RouterOptions{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr()).Str("registry", rt.RegistryName).Msg("API listening")
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.HTTPIdleTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
		return err
	}
	logger.Info().Msg("server stopped")
	return <-errCh
}

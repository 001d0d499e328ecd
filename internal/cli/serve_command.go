package cli

import (
	"flag"

	"fluxtune/internal/app"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.String("port", "", "listen port (overrides PORT)")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Port = *port
	}
	logger := commandLogger(cfg, true)

	ctx, stop := signalContext()
	defer stop()
	return app.Serve(ctx, cfg, logger)
}

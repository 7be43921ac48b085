package main

import (
	"context"

	"github.com/joho/godotenv"

	"pagestore/internal/app"
	"pagestore/pkg/config"
	"pagestore/pkg/logger"
	"pagestore/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseFlags()
	eff, err := config.LoadEffective(flags)
	if err != nil {
		logger.Init()
		shutdown.Abort("load config", err, "", 0)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	logger.Info("starting", "version", version, "commit", commit, "addr", eff.Addr)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup", err, eff.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server", err, eff.DBPath)
	}
	logger.Info("stopped")
}

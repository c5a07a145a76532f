package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Penacillin/knocker/internal/commands"
)

func main() {
	// Initialize structured logger; -v raises the level once flags are parsed
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.Execute(ctx, commands.NewDownloadCommand(commands.DefaultDeps()))
	stop()
	os.Exit(code)
}

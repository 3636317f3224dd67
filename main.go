package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/soocke/framegrab/app"
	"github.com/soocke/framegrab/ui/view"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := app.NewRootCommand(app.CommandOptions{
		NewLogger: func(level, format string) *slog.Logger {
			return NewLogger(level, format, os.Stderr)
		},
		NewOutline: func(logger *slog.Logger) app.Outline {
			return view.NewRegionOutline(logger)
		},
		Stdout: os.Stdout,
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "framegrab:", err)
		stop()
		os.Exit(1)
	}
}

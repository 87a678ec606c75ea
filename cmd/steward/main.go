package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/stewardai/steward/internal/app"
	"github.com/stewardai/steward/internal/config"
)

func main() {
	cfg := config.Load(os.Getenv("STEWARD_CONFIG"))

	if missing := cfg.Validate(); len(missing) > 0 {
		fmt.Fprintln(os.Stderr, "steward: configuration is not startable:")
		for _, m := range missing {
			fmt.Fprintf(os.Stderr, "  - %s\n", m)
		}
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, app.Deps{
		Frontend: app.NewConsole(),
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "steward: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(ctx)

	if err := a.RunWithSignal(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "steward: %v\n", err)
		os.Exit(1)
	}
}

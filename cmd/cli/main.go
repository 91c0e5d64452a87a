package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/specialistvlad/actortheater/internal/app"
	"github.com/specialistvlad/actortheater/internal/cli"
	"github.com/specialistvlad/actortheater/internal/hcl"
	"github.com/specialistvlad/actortheater/internal/yamlconfig"
)

// main is the entrypoint for the actortheater application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()

	yamlLoader := yamlconfig.NewLoader()
	theater := app.NewApp(outW, appConfig,
		app.WithLoader(".hcl", hcl.NewLoader()),
		app.WithLoader(".yaml", yamlLoader),
		app.WithLoader(".yml", yamlLoader),
	)
	return theater.Run(context.Background())
}

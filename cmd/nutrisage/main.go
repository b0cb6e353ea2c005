// Command nutrisage ingests food-product exports into partitioned Parquet and validates the result
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Get().Warn().Err(err).Msg(".env not loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to a process exit code
func execute(ctx context.Context, args []string, out io.Writer) int {
	cmd := newRootCmd(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return perr.ExitOK
	}
	if _, ok := perr.As(err); ok {
		logger.Named("cli").Error().Err(err).Msg("nutrisage failed")
		return perr.ExitCode(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return perr.ExitFailure
	}
	// cobra reports unknown commands, unknown flags and bad flag values as plain errors
	fmt.Fprintln(os.Stderr, "nutrisage:", err)
	return perr.ExitUsage
}

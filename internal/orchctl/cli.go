package orchctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type Config struct {
	Addr   string
	LogLvl string
}

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns an exit code (0 for success, non-zero on error).
func MainWithArgs(args []string) int {
	// If user explicitly asks for help, print usage and exit 0
	for _, a := range args {
		if a == "-h" || a == "--help" || a == "help" {
			_ = buildRootCmd().Help()
			return 0
		}
	}
	cfg := &Config{
		Addr:   envStr("ORCHD_ADDR", ":8090"),
		LogLvl: envStr("ORCHCTL_LOG_LEVEL", "info"),
	}
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)

	// Ctrl+C cancels long-lived commands such as the events stream.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code (0 for success, non-zero on error) for use by cmd/orchctl.
func Main() int { return MainWithArgs(os.Args[1:]) }

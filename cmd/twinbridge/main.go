// Package main implements the entry point for twinbridge, the bridge that
// relays grid sensor, alert and health events from the broker into the
// digital twin store and fans reconciled state out to dashboard observers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "twinbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

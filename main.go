// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"moodtap/cmd"
	applog "moodtap/internal/log"
	"moodtap/pkg/build"
)

// main wires signal handling around the command line. The commands own the
// rest: analyze runs file batches on a worker pool, listen holds PortAudio
// open for the life of the capture, devices only briefly.
func main() {
	// Build information is injected with -ldflags; development builds run
	// with the defaults.
	if err := build.Initialize(); err != nil {
		applog.Debugf("Main: development build: %v", err)
	}

	// Interrupt cancels the running command, which then shuts down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		applog.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

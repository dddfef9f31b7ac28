// Command bootsync-agent is the remote end of bootsync's --host mode. It
// speaks newline-delimited JSON on stdin/stdout and executes the commands
// a bootsync controller sends it. Diagnostics go to stderr; stdout carries
// nothing but protocol messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wycats/bootsync/pkg/agent"
	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A signal cancels the in-flight command; the controller closing stdin
	// is what ends the session.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	runner := hostexec.NewHostRunner(hostexec.NewLocalRunner())
	a := agent.New(os.Stdin, os.Stdout, hostenv.NewOS(), runner, Version)

	if err := a.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bootsync-agent: %v\n", err)
		os.Exit(1)
	}
}

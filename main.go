// udpterm serves remote terminals over UDP and attaches to them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"udpterm/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "udpterm: %v\n", err)
		os.Exit(1)
	}
}

// Command gradectl indexes documents and grades student answers without going through the API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout}
	defer c.close()

	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		return 1
	}

	return 0
}

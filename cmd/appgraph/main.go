package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prrao87/application-graph/internal/app"
	"github.com/prrao87/application-graph/internal/platform/shutdown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "appgraph: %v\n", err)
		return app.ExitCode(err)
	}
	return 0
}

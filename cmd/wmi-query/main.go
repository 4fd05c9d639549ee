// Command wmi-query runs WQL queries and method calls against WMI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/smnsjas/go-wmicore/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(cli.GetExitCode(err))
	}
}

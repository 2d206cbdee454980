// Command synopsis manages the monitoring inventory: it migrates the
// configured store, applies seed files, lists and edits hosts and groups,
// and writes or restores backups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		exitFunc(1)
	}
}

// Command livetranslate is a terminal client for a real-time translation
// service. It shows translated transcript lines as they arrive and falls back
// to simulated lines when the service cannot be reached.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "livetranslate: %v\n", err)
		}
		os.Exit(1)
	}
}

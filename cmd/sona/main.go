// Package main is the entry point for the sona CLI.
//
// Usage:
//
//	sona [flags] <command> [subcommand] [args]
//
// Commands:
//
//	serve      - Run the relay server (websocket + WebRTC ingress)
//	sessions   - Inspect stored sessions (list, export, query)
//	dashboard  - Render a user's progress dashboard
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/lumenkind/sona/cmd/sona/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

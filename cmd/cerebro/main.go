// Command cerebro resolves and validates settings files locally and
// administers the namespaces, API keys and audit log of a cerebro server.
//
// Usage:
//
//	# Resolve a settings file for a context
//	cerebro resolve -f settings.yaml --context env=prod --context farm=1
//
//	# Check a settings file against the built-in or a custom schema
//	cerebro validate -f settings.yaml --schema schema.json
//
//	# Create a namespace and an API key for it
//	cerebro admin namespace create billing
//	cerebro admin key create billing --name deploy
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

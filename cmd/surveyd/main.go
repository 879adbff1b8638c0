// Package main is the entry point for the surveyd daemon and CLI.
//
// Usage:
//
//	surveyd serve -f surveyd.yaml     run the daemon
//	surveyd call +15550100            place one survey call
//	surveyd status [session-id]       inspect sessions
//	surveyd abort <session-id>        cancel a session
package main

import (
	"fmt"
	"os"

	"github.com/krishnanand20/audiosurvey-ai/cmd/surveyd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

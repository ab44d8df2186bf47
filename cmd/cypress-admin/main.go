// Package main provides the entry point for cypress-admin.
//
// cypress-admin is the offline management tool for the Cypress
// persistence engine: inspecting data directories, compacting state
// into fresh snapshots and purging files no longer needed for
// recovery.
package main

import (
	"fmt"
	"os"

	"github.com/cypressdb/cypress-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

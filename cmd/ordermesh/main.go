// ordermesh is the command-line interface for the ordermesh services.
//
// Usage:
//
//	ordermesh <command> [flags]
//
// Commands:
//
//	init        Write a default ordermesh.yaml
//	migrate     Create the store schema
//	serve       Serve the cart and order gRPC APIs
//	router      Route committed events to downstream services
//	relay       Copy the store's change stream to Kafka or Redis
//	inspect     Show an aggregate's state and event log
//	version     Show version information
//
// Examples:
//
//	# Run the router against a local Postgres
//	ORDERMESH_STORAGE_DRIVER=postgres ordermesh router run
//
//	# Look at a cart
//	ordermesh inspect cart 0b7c7e1e-6c1e-4f55-9b4a-1f1f6b8d2c3a
package main

import (
	"os"

	"github.com/AshkanYarmoradi/ordermesh/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

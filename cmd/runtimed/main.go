// Package main is the entry point for the runtimed broker.
package main

import (
	"os"

	"github.com/boltlabs/runtimed/cmd/runtimed/app"
	"github.com/boltlabs/runtimed/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

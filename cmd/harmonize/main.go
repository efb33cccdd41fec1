// Package main provides the CLI for the harmonize data harmonization engine.
package main

import (
	"os"

	"github.com/leapstack-labs/harmonize/internal/cli"

	// Datasource types available from harmonize.yaml.
	_ "github.com/leapstack-labs/harmonize/pkg/datasources/generated"
	_ "github.com/leapstack-labs/harmonize/pkg/datasources/memory"
	_ "github.com/leapstack-labs/harmonize/pkg/datasources/sqldb"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

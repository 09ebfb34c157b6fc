// Command geocrud ingests geographic points tagged with a colour and serves
// them over a REST API.
//
// Run with:
//
//	go run . serve
//
// The server listens on :8080 by default and stores records in geo.db, a
// BoltDB file. Pass --store postgres and the --db-* flags to use PostgreSQL.
// See geocrud --help for every option.
package main

import (
	"fmt"
	"os"

	"github.com/arkantrust/geocrud-api/cmd"
)

func main() {
	if err := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

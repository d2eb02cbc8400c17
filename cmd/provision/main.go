// Command provision creates or repairs one tenant schema and reports the
// verification outcome. Exit codes: 0 on success, 1 on a failure that
// blocks go-live, 2 on invalid input.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brightcampus/schoolcore/internal/provision"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

func main() {
	schema := flag.String("schema", "", "tenant schema name to provision")
	verifyOnly := flag.Bool("verify", false, "verify readiness without provisioning")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall operation timeout")
	flag.Parse()

	if *schema == "" {
		fmt.Fprintln(os.Stderr, "usage: provision -schema <name> [-verify]")
		os.Exit(2)
	}
	if !database.ValidSchemaName(*schema) {
		fmt.Fprintf(os.Stderr, "invalid schema name %q\n", *schema)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("provision", cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := provision.New(db, log)

	if *verifyOnly {
		v := p.Verify(ctx, *schema)
		printJSON(v)
		if !v.ReadyForLive {
			os.Exit(1)
		}
		return
	}

	res := p.Provision(ctx, *schema)
	printJSON(res)
	if !res.Success {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

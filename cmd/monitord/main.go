package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/daemon"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/tenant"
)

func main() {
	tenantFlag := flag.String("tenant", "", "tenant name (overrides config default)")
	flag.Parse()

	name := tenant.Resolve(*tenantFlag)
	if err := tenant.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Tenant: name}),
	)

	app.Run()
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PlusLedger/app/repository"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/database"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/env"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// backend is what every command operates on.
type backend struct {
	svc   *billing.Service
	repos *repository.Repositories
}

// openBackend connects to the configured database. Tests replace it.
var openBackend = func() (*backend, error) {
	env.SetupEnvFile()
	database.SetupDatabase()
	db := database.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database is not configured")
	}
	cfg := billing.LoadConfig()
	return &backend{
		svc:   billing.NewServiceFromDB(db, billing.NewProviderFromConfig(cfg), cfg),
		repos: repository.NewRepositories(db),
	}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "plusledgerctl",
		Short:         "Operate the PlusLedger entitlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSweepCmd(), newGiftCmd(), newCustomersCmd(), newUserCmd(), newStatusCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliActor names the operator in the audit trail.
func cliActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli:unknown"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

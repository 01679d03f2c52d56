package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/pskrzyns/bedrockdash/internal/config"
	"github.com/pskrzyns/bedrockdash/internal/version"
)

func main() {
	if os.Getenv("BEDROCKDASH_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:     "bedrockdash",
		Short:   "bedrockdash aggregates per-user Bedrock usage and billing data for dashboards.",
		Version: version.String(),
	}

	root.AddCommand(newSnapshotCommand(cfg))
	root.AddCommand(newAttributionCommand(cfg))
	root.AddCommand(newRefreshCommand(cfg))
	root.AddCommand(newWatchCommand(cfg))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

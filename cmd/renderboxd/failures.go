package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderlab/renderbox/internal/config"
	"github.com/renderlab/renderbox/internal/storage/sqlite"
)

var failuresLimit int

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect the provision failure journal",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent provision failures",
	RunE:  runFailuresList,
}

func init() {
	failuresListCmd.Flags().IntVar(&failuresLimit, "limit", 20, "Maximum failures to show")
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.AddCommand(failuresListCmd)
}

func runFailuresList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	fails, err := store.ListProvisionFailures(context.Background(), failuresLimit)
	if err != nil {
		return err
	}
	if len(fails) == 0 {
		fmt.Println("No provision failures.")
		return nil
	}

	for _, f := range fails {
		fmt.Printf("[%s] node=%s template=%s substrate=%s\n    %s\n",
			f.CreatedAt.Local().Format(time.DateTime),
			f.NodeID, f.TemplateRef, f.SubstrateRef, f.Cause)
	}
	return nil
}

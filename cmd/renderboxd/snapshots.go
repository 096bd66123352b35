package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderlab/renderbox/internal/blob"
	"github.com/renderlab/renderbox/internal/config"
	"github.com/renderlab/renderbox/internal/storage/sqlite"
)

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots",
	Aliases: []string{"snapshot", "snap"},
	Short:   "Inspect and manage saved snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot records",
	RunE:  runSnapshotsList,
}

var snapshotsDeleteCmd = &cobra.Command{
	Use:   "delete <node-id>",
	Short: "Delete a node's snapshot record",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsDelete,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsDeleteCmd)
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	recs, err := store.ListSnapshots(context.Background())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No snapshots.")
		return nil
	}

	fmt.Printf("%-24s %-12s %-20s %s\n", "NODE", "SIZE", "CREATED", "KEY")
	for _, rec := range recs {
		fmt.Printf("%-24s %-12d %-20s %s\n",
			rec.NodeID, rec.SizeBytes,
			rec.CreatedAt.Local().Format(time.DateTime),
			rec.StorageKey)
	}
	return nil
}

func runSnapshotsDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec, err := store.GetSnapshot(ctx, args[0])
	if err != nil {
		return err
	}
	if err := store.DeleteSnapshot(ctx, args[0]); err != nil {
		return err
	}
	if rec != nil {
		blobs, err := blob.NewFSStore(cfg.Storage.BlobDir)
		if err != nil {
			return err
		}
		if err := blobs.Delete(ctx, rec.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return err
		}
	}
	fmt.Printf("Snapshot record for node %s deleted.\n", args[0])
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderlab/renderbox/internal/blob"
	"github.com/renderlab/renderbox/internal/config"
	"github.com/renderlab/renderbox/internal/log"
	"github.com/renderlab/renderbox/internal/provider"
	"github.com/renderlab/renderbox/internal/sandbox"
	"github.com/renderlab/renderbox/internal/server"
	"github.com/renderlab/renderbox/internal/snapshot"
	"github.com/renderlab/renderbox/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the renderbox sandbox service",
	Long: `Start the HTTP service that provisions sandboxes, serves their files,
and manages snapshots. The lifecycle reaper runs in the background.

Examples:
  renderboxd serve
  renderboxd serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Setup(cfg.Server.LogLevel)
	logger := log.WithComponent("serve")

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	blobs, err := blob.NewFSStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	var prov provider.Provider
	switch cfg.Sandbox.Provider {
	case "local":
		prov, err = provider.NewLocalProvider(cfg.Sandbox.LocalRoot)
		if err != nil {
			return fmt.Errorf("creating local provider: %w", err)
		}
	case "docker":
		prov = provider.NewDockerProvider(provider.Policy{
			MaxMemory: cfg.Docker.MaxMemory,
			Network:   cfg.Docker.Network,
			Images:    cfg.Docker.Images,
		})
	default:
		return fmt.Errorf("unknown sandbox provider %q", cfg.Sandbox.Provider)
	}

	registry := sandbox.NewRegistry()
	locks := sandbox.NewKeyedMutex()
	snapshots := snapshot.NewManager(registry, prov, blobs, store, locks, cfg.Sandbox.OutputDir)

	resolve := func(name string) (provider.Template, error) {
		return provider.LoadTemplate(cfg.Sandbox.TemplatesDir, name)
	}
	provisioner := sandbox.NewProvisioner(registry, prov, store, snapshots, locks, resolve, cfg.Sandbox.ProvisionTimeout)
	gateway := sandbox.NewGateway(registry, prov)

	reaper := sandbox.NewReaper(registry, provisioner,
		cfg.Sandbox.IdleAfter, cfg.Sandbox.IdleTTL, cfg.Sandbox.ReapInterval)
	reapCtx, stopReaper := context.WithCancel(context.Background())
	go reaper.Run(reapCtx)

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, registry, provisioner, gateway, snapshots, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		stopReaper()

		// Live sandboxes die with the process anyway (the registry is
		// in-memory); release their substrate resources while we still can.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, inst := range registry.List() {
			if err := provisioner.Destroy(ctx, inst.ID); err != nil {
				logger.Warn("shutdown destroy failed", "sandbox_id", inst.ID, "error", err)
			}
		}

		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}

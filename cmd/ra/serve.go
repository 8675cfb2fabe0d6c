package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangcancai/ra/internal/config"
	"github.com/yangcancai/ra/internal/pubsub"
	"github.com/yangcancai/ra/internal/raft"
	"github.com/yangcancai/ra/internal/raft/driver"
	"github.com/yangcancai/ra/internal/raft/metrics"
	"github.com/yangcancai/ra/internal/raft/storage"
	"github.com/yangcancai/ra/internal/raft/transport"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node with the built-in single-node decision core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logStore, err := storage.NewBboltStorage(filepath.Join(cfg.Storage.DataDir, "wal.db"))
	if err != nil {
		return err
	}
	defer logStore.Close()

	nodeID := raft.NodeID(cfg.Node.ID)
	cluster := map[raft.NodeID]raft.Peer{
		nodeID: {ID: nodeID, Addr: cfg.Node.BindAddr},
	}
	for _, peer := range cfg.Cluster.Peers {
		id := raft.NodeID(peer.ID)
		cluster[id] = raft.Peer{ID: id, Addr: peer.Addr}
	}

	grpcTransport := transport.NewGrpcTransport(nodeID, cluster)
	defer grpcTransport.CloseAllClients()

	collector := metrics.NewMetrics()
	bus := pubsub.NewNodeBus()
	defer bus.Close()

	d, err := driver.Start(driver.Config{
		ID:            nodeID,
		Cluster:       cluster,
		Machine:       newSingleNodeCore(),
		Transport:     grpcTransport,
		Log:           logStore,
		MachineState:  map[string]string{},
		BroadcastTime: cfg.BroadcastTime(),
		SyncInterval:  cfg.SyncInterval(),
		Metrics:       collector,
		Bus:           bus,
	})
	if err != nil {
		return err
	}

	server := transport.NewServer(cfg.Node.BindAddr)
	if err := server.Start(driver.NewNodeHandler(d)); err != nil {
		d.Stop()
		return err
	}

	log.Printf("[SERVE] Node %s listening on %s", nodeID, server.Addr())

	go watchRoleChanges(bus, nodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("[SERVE] Received %v, shutting down", sig)
	case <-d.Done():
		log.Printf("[SERVE] Driver terminated, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = server.Stop(shutdownCtx)
	d.Stop()

	log.Printf("[SERVE] Final metrics:\n%s", collector.Report())
	return nil
}

func watchRoleChanges(bus *pubsub.NodeBus, nodeID raft.NodeID) {
	changes, cancel := bus.RoleChanges.Subscribe(8)
	defer cancel()

	for change := range changes {
		log.Printf("[SERVE] Node %s is now %v (term %d)", nodeID, change.To, change.Term)
	}
}

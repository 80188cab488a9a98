package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridmesh/gridmesh/admission"
	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/config"
	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/discovery"
	"github.com/gridmesh/gridmesh/identity"
	"github.com/gridmesh/gridmesh/ledger"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/runtime"
	"github.com/gridmesh/gridmesh/server"
	"github.com/gridmesh/gridmesh/workload"
)

func main() {
	// Parse command line flags
	var (
		configFile = flag.String("config", "", "Path to YAML configuration file")
		// Direct flags for running without a config file
		listenAddr    = flag.String("listen", "", "HTTP listen address (e.g., ':7400')")
		advertiseAddr = flag.String("advertise", "", "Externally reachable address (e.g., 'localhost:7400')")
		idFile        = flag.String("id-file", "", "Path to the node identity file")
		bootstrapAddr = flag.String("bootstrap", "", "Bootstrap peer address (optional)")
	)
	flag.Parse()

	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
		log.Printf("Starting node with configuration from %s", *configFile)
	} else {
		cfg = config.Default()
		if *listenAddr != "" {
			cfg.Node.ListenAddr = *listenAddr
		}
		if *advertiseAddr != "" {
			cfg.Node.AdvertiseAddr = *advertiseAddr
		}
		if *idFile != "" {
			cfg.Node.IDFile = *idFile
		}
		if *bootstrapAddr != "" {
			cfg.Bootstrap = append(cfg.Bootstrap, *bootstrapAddr)
		}
		log.Printf("Starting node with direct configuration (listen: %s, advertise: %s)", cfg.Node.ListenAddr, cfg.Node.AdvertiseAddr)
	}

	nodeID, err := identity.Load(cfg.Node.IDFile)
	if err != nil {
		log.Fatalf("Failed to load node identity: %v", err)
	}
	log.Printf("Node identity: %s", nodeID)

	declared, err := capacity.Resolve(cfg.Capacity)
	if err != nil {
		log.Fatalf("Failed to resolve capacity: %v", err)
	}
	log.Printf("Declared capacity: %.1f cores, %d MB memory", declared.CPUCores, declared.MemoryBytes/(1<<20))

	store, err := ledger.Open(cfg.Ledger.Store, cfg.Ledger.Path, cfg.Ledger.Postgres)
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer store.Close()

	ldg, err := ledger.New(store, nodeID)
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		log.Fatalf("Failed to connect to the container runtime: %v", err)
	}

	dir := directory.New()
	client := peerapi.NewClient(peerapi.DefaultTimeout)
	manager := workload.NewManager(rt, ldg, nodeID)
	controller := admission.New(nodeID, declared, manager, dir, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meter := workload.NewMeter(manager, ldg, rt, nodeID, cfg.Intervals.Metering)
	meter.Start(ctx)

	disco := discovery.NewLoop(nodeID, cfg.Node.AdvertiseAddr, cfg.Bootstrap, dir, client, cfg.Intervals.Discovery)
	disco.Start(ctx)

	srv := server.New(server.Options{
		NodeID:        nodeID,
		ListenAddr:    cfg.Node.ListenAddr,
		AdvertiseAddr: cfg.Node.AdvertiseAddr,
		Capacity:      declared,
		Cooperative:   peerapi.Cooperative{ID: cfg.Cooperative.ID, Tier: cfg.Cooperative.Tier},
		Directory:     dir,
		Admission:     controller,
		Manager:       manager,
		Ledger:        ldg,
	})
	srv.Start()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	disco.Stop()
	meter.Stop()
	cancel()

	log.Println("Node stopped")
}

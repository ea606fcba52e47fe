// cmd/controlcore/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factory-control-core/internal/api"
	"factory-control-core/internal/auth"
	"factory-control-core/internal/command"
	"factory-control-core/internal/config"
	"factory-control-core/internal/control"
	"factory-control-core/internal/history"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/router"
	"factory-control-core/internal/state"
	"factory-control-core/internal/transport"
	"factory-control-core/internal/websocket"
)

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Printf("Error loading config, continuing with defaults: %v", err)
	}
	cfg := &config.AppConfig

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- External collaborators ---
	var hist history.Store = history.Nop{}
	var pg *history.Postgres
	if cfg.Postgres.DSN != "" {
		var err error
		pg, err = history.ConnectPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Printf("History store unavailable, continuing without audit trail: %v", err)
		} else {
			hist = pg
			defer pg.Close()
		}
	}

	nc, err := transport.Connect(cfg.NATS.URL, cfg.NATS.ClientName)
	if err != nil {
		log.Fatalf("NATS connect error: %v", err)
	}
	defer nc.Drain()
	log.Printf("NATS connected to %s", cfg.NATS.URL)

	// --- Core components ---
	infos, err := hist.ListMachines(ctx)
	if err != nil {
		log.Printf("Error loading machine registry: %v", err)
	}
	store := state.NewStore(infos)
	log.Printf("Initialized %d machine states", len(infos))

	m := metrics.New()
	hub := websocket.NewHub()
	go hub.Run()

	dispatcher := command.NewDispatcher(store, &transport.NATSPublisher{Conn: nc}, hist, hub, m,
		time.Duration(cfg.Command.AckTimeoutSeconds)*time.Second)
	go dispatcher.RunExpiry(ctx)

	controller := control.NewController(dispatcher, hist, m)

	msgRouter := router.New(nc, store, dispatcher, controller, hist, hub, m)
	if err := msgRouter.Start(); err != nil {
		log.Fatalf("Router subscribe error: %v", err)
	}
	defer msgRouter.Stop()

	// --- HTTP surface ---
	authMgr := auth.NewManager(cfg.Auth)
	apiHandler := api.NewAPIHandler(store, dispatcher, hist, hub, authMgr, cfg.Plant.ID)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.SetupRouter(apiHandler, authMgr, m),
	}

	go func() {
		log.Printf("Control core listening on port %d (plant %s)", cfg.Server.Port, cfg.Plant.ID)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	log.Println("Control core stopped.")
}

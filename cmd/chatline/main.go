package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/chatline/internal/config"
	"github.com/comigor/chatline/internal/history"
	"github.com/comigor/chatline/internal/logger"
	"github.com/comigor/chatline/internal/network"
	"github.com/comigor/chatline/internal/server"
	"github.com/comigor/chatline/internal/timeline"
	"github.com/comigor/chatline/internal/transport"
)

func main() {
	log := logger.For("main")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := history.Open(cfg.History.DBPath)
	defer store.Close()

	// Connectivity: probe a real address when configured, otherwise start
	// online and let the API flip the link by hand.
	var provider network.Connectivity
	if addr := cfg.Network.Probe.Address; addr != "" {
		probe := network.NewProbe(addr, cfg.Network.Probe.Interval, cfg.Network.Probe.Timeout, nil)
		probe.Start(ctx)
		defer probe.Stop()
		provider = probe
	} else {
		provider = network.NewSwitch(true)
	}

	mon := network.New(provider, network.Options{
		ReconnectInterval:    cfg.Network.ReconnectInterval,
		MaxReconnectAttempts: cfg.Network.MaxReconnectAttempts,
		Debounce:             cfg.Network.Debounce,
	})
	defer mon.Close()

	tr, closeTransport, err := newTransport(ctx, cfg, store, mon)
	if err != nil {
		log.Error("failed to create transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	tl := timeline.New(mon, tr, timeline.Options{
		PageSize:        cfg.Timeline.PageSize,
		RevokeTimeLimit: cfg.Timeline.RevokeTimeLimit,
		ResendDelay:     cfg.Timeline.ResendDelay,
		DefaultSender:   cfg.Timeline.DefaultSender,
	})
	defer tl.Close()
	if err := seedTimeline(tl, tr, store, cfg); err != nil {
		log.Error("failed to seed timeline", "error", err)
		os.Exit(1)
	}

	// Start server
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           server.New(tl, mon).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("starting server", "address", serverAddr, "transport", cfg.Transport.Type, "archive", store.Persistent())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to start server", "error", err)
	}
}

func newTransport(ctx context.Context, cfg *config.Config, store *history.Store, mon *network.Monitor) (transport.Transport, func(), error) {
	switch cfg.Transport.Type {
	case config.TransportMCP:
		t, err := transport.DialMCP(ctx, cfg.Transport.MCP)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {
			if err := t.Close(); err != nil {
				logger.L.Warn("MCP client close error", "error", err)
			}
		}, nil
	default:
		return transport.NewLocal(store, mon.IsOnline, transport.LocalOptions{
			Sender:  cfg.Timeline.DefaultSender,
			Latency: cfg.Transport.Latency,
		}), func() {}, nil
	}
}

// ABOUTME: Entry point for the SyncJam room server
// ABOUTME: Wires config, hub, coordinator, snapshots, stream proxy, and mDNS
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/clock"
	"github.com/syncjam/syncjam-go/internal/config"
	"github.com/syncjam/syncjam-go/internal/discovery"
	"github.com/syncjam/syncjam-go/internal/proxy"
	"github.com/syncjam/syncjam-go/internal/resolver"
	"github.com/syncjam/syncjam-go/internal/room"
	"github.com/syncjam/syncjam-go/internal/server"
	"github.com/syncjam/syncjam-go/internal/store"
)

var (
	port        = flag.Int("port", 0, "listen port (overrides SYNCJAM_PORT)")
	name        = flag.String("name", "", "room name (default: hostname-syncjam)")
	resolverURL = flag.String("resolver", "", "resolver sidecar base URL (overrides SYNCJAM_RESOLVER_URL)")
	redisAddr   = flag.String("redis", "", "redis address for snapshots (overrides SYNCJAM_REDIS_ADDR)")
	noMDNS      = flag.Bool("no-mdns", false, "disable mDNS advertisement")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *resolverURL != "" {
		cfg.ResolverURL = *resolverURL
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}
	if *noMDNS {
		cfg.EnableMDNS = false
	}
	if *debug {
		cfg.Debug = true
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = hostname + "-syncjam"
	}

	hub := server.NewHub(logger)

	var snaps room.SnapshotStore
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedis(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, snapshots disabled")
		} else {
			snaps = rs
			defer rs.Close()
		}
	}

	coord := room.NewCoordinator(room.Config{
		Clock:       clock.NewSystem(),
		Broadcaster: hub,
		Snapshots:   snaps,
		Logger:      logger,
	})
	hub.SetCoordinator(coord)

	if snaps != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		snap, err := snaps.Load(ctx)
		cancel()
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("snapshot load failed")
		case snap != nil:
			coord.Restore(*snap)
			logger.Info().Int("queueLen", len(snap.Queue)).Msg("room restored from snapshot")
		}
	}

	res := resolver.New(cfg.ResolverURL, logger)
	var streamProxy http.Handler = proxy.New(res, logger)

	srv := server.New(server.Config{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Name: cfg.Name,
	}, server.Routes(hub, coord, snaps, streamProxy, logger), logger)

	if cfg.EnableMDNS {
		adv := discovery.NewAdvertiser(cfg.Name, cfg.Port, logger)
		if err := adv.Advertise(); err != nil {
			logger.Warn().Err(err).Msg("mdns advertisement failed")
		} else {
			defer adv.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

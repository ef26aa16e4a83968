package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sauerworld/qmaster/internal/auth"
	"github.com/sauerworld/qmaster/internal/config"
	"github.com/sauerworld/qmaster/internal/events"
	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/metrics"
	"github.com/sauerworld/qmaster/internal/ping"
	"github.com/sauerworld/qmaster/internal/pingcache"
	"github.com/sauerworld/qmaster/internal/registry"
	"github.com/sauerworld/qmaster/internal/remote"
	"github.com/sauerworld/qmaster/internal/server"
	"github.com/sauerworld/qmaster/internal/snapshotstore"
	"github.com/sauerworld/qmaster/internal/telemetry"
)

func main() {
	if err := logging.InitDefaultLogger("qmaster"); err != nil {
		log.Fatalf("qmaster: initializing logging: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("qmaster: starting up")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("qmaster: loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.NoopShutdown
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, "qmaster")
		if err != nil {
			logging.Warn("qmaster: telemetry init failed, continuing without tracing: %v", err)
		} else {
			shutdownTelemetry = shutdown
		}
	}
	defer shutdownTelemetry(context.Background())

	met := metrics.New()
	met.StartHTTP(ctx, cfg.Metrics.GetListen())

	userStore := buildAuthStore(cfg.Auth)
	authStore := auth.NewAuthStore(userStore)
	authStore.SetMetrics(met)

	cache := buildPingCache(cfg.PingCache)
	pinger := pingcache.WrapPinger(registry.Pinger(ping.Ping), cache)

	var publisher *events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.Events.NATSURL, cfg.Events.GetStream())
		if err != nil {
			logging.Warn("qmaster: events init failed, continuing without notifications: %v", err)
		} else {
			defer publisher.Close()
			if err := events.StartLoggingListener(publisher); err != nil {
				logging.Warn("qmaster: events logging listener failed: %v", err)
			}
		}
	}

	var snapStore *snapshotstore.Store
	if cfg.SnapshotStore.BadgerPath != "" {
		snapStore, err = snapshotstore.Open(cfg.SnapshotStore.BadgerPath)
		if err != nil {
			logging.Warn("qmaster: snapshot store init failed, continuing without it: %v", err)
		} else {
			defer snapStore.Close()
		}
	}

	reg := registry.New(pinger, eventPublisherOrNil(publisher), pingCacheOrNil(cache))
	reg.SetBackupPath(cfg.Backup.Path)
	reg.SetPeers(buildPeers(cfg.Server.PeerMasters))
	reg.SetMetrics(met)

	port := cfg.Server.GetTCPPort()
	sup := server.NewSupervisor(reg, authStore, port, met, snapStore)

	if err := sup.Start(ctx); err != nil {
		log.Fatalf("qmaster: starting server: %v", err)
	}
	logging.Info("qmaster: ready on port %d", port)

	<-ctx.Done()
	logging.Info("qmaster: shutting down")

	if err := sup.Stop(); err != nil {
		logging.Error("qmaster: stopping server: %v", err)
	}

	if snapStore != nil {
		if err := snapStore.SyncAll(reg.Snapshot(), time.Now()); err != nil {
			logging.Warn("qmaster: final snapshot sync failed: %v", err)
		}
	}

	logging.Info("qmaster: stopped")
}

// buildAuthStore selects the configured auth backend. An explicitly
// configured MySQL or Mongo backend that fails to connect is a fatal
// startup error (spec.md §7's "corrupt auth file" class of failure); an
// unconfigured backend falls back to an empty in-memory store.
func buildAuthStore(cfg config.AuthConfig) auth.UserStore {
	switch {
	case cfg.MySQL.DSN != "":
		store, err := auth.NewMySQLUserStore(cfg.MySQL.DSN)
		if err != nil {
			log.Fatalf("qmaster: connecting to configured MySQL auth backend: %v", err)
		}
		return store

	case cfg.Mongo.URI != "":
		store, err := auth.NewMongoUserStore(auth.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			log.Fatalf("qmaster: connecting to configured Mongo auth backend: %v", err)
		}
		return store

	case cfg.UsersFile != "":
		store, err := auth.LoadJSONUserStore(cfg.UsersFile)
		if err != nil {
			log.Fatalf("qmaster: loading auth users file %s: %v", cfg.UsersFile, err)
		}
		return store

	default:
		logging.Warn("qmaster: no auth backend configured, starting with no registered users")
		return auth.NewMemoryUserStore()
	}
}

func buildPingCache(cfg config.PingCacheConfig) *pingcache.Cache {
	if cfg.RedisURL == "" {
		return nil
	}
	cache, err := pingcache.New(cfg.RedisURL)
	if err != nil {
		logging.Warn("qmaster: pingcache init failed, continuing without grace retries: %v", err)
		return nil
	}
	return cache
}

func buildPeers(peers []config.PeerMaster) []registry.Peer {
	out := make([]registry.Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, registry.Peer{
			Ref:    registry.PeerRef{Host: p.Host, Port: p.Port},
			Client: remote.New(p.Host, p.Port),
		})
	}
	return out
}

// eventPublisherOrNil adapts a possibly-nil *events.Publisher to a possibly-nil
// registry.EventPublisher: a non-nil *events.Publisher wrapped in a nil
// interface would make the registry's own nil checks misfire.
func eventPublisherOrNil(p *events.Publisher) registry.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

func pingCacheOrNil(c *pingcache.Cache) registry.PingCache {
	if c == nil {
		return pingcache.NoOp{}
	}
	return c
}

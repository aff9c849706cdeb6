package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/weaveserver/syncstorage/auth"
	"github.com/weaveserver/syncstorage/cache"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/config"
	"github.com/weaveserver/syncstorage/server"
	"github.com/weaveserver/syncstorage/storage"
)

func main() {
	var configPath = flag.String("c", "", "path to the TOML configuration file")
	var authFile = flag.String("auth", "", "path to a static credentials table (credential user_id realm per line); omitted means any caller is nobody")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %s", err)
		}
	}

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("opening storage: %s", err)
	}

	cached := cache.New(backend, cfg.EphemeralCollections, cfg.CollectionCacheSize, cfg.DailyWriteCapBytes)

	authenticator, err := openAuth(*authFile)
	if err != nil {
		log.Fatalf("loading auth table: %s", err)
	}

	srv := &server.Server{
		PortNumber: cfg.Port,
		Storage:    cached,
		Clock:      clock.New(clock.RealSource{}),
		Auth:       authenticator,
		Quotas:     server.StaticQuota(cfg.DefaultQuotaKB),
		Limits:     cfg.BSOLimits,
	}

	fmt.Printf("Listening on :%s (driver=%s)\n", cfg.Port, cfg.Driver)
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}

func openBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.Driver {
	case "mysql":
		dsns := make([]string, len(cfg.Shards))
		maxConns := 0
		for i, shard := range cfg.Shards {
			dsns[i] = shard.DSN
			if shard.MaxConnections > maxConns {
				maxConns = shard.MaxConnections
			}
		}
		return storage.NewMySQLBackend(dsns, maxConns)
	case "ql", "":
		path := "memory"
		if len(cfg.Shards) > 0 && cfg.Shards[0].DSN != "" {
			path = cfg.Shards[0].DSN
		}
		return storage.NewQLBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openAuth(path string) (auth.Authenticator, error) {
	if path == "" {
		log.Println("no auth table given, authenticating every caller as user_id 0")
		return auth.Nobody{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return auth.NewStaticTable(f)
}

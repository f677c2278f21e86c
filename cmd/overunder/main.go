// Command overunder runs the over/under game service: the HTTP API, the
// transfer watchers and the settlement scheduler, selected by ROLE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"overunder/internal/archive"
	"overunder/internal/cache/redis"
	"overunder/internal/config"
	"overunder/internal/engine"
	"overunder/internal/inflight"
	"overunder/internal/ledger"
	"overunder/internal/oracle"
	"overunder/internal/scheduler"
	"overunder/internal/secrets"
	"overunder/internal/server"
	"overunder/internal/solana"
	"overunder/internal/storage"
	"overunder/internal/storage/memory"
	"overunder/internal/storage/migrations"
	"overunder/internal/storage/postgres"
	chstore "overunder/internal/storage/clickhouse"
	"overunder/internal/watcher"
)

func main() {
	configPath := flag.String("config", os.Getenv("OVERUNDER_CONFIG"), "Path to TOML config file")
	flag.Parse()

	logger := log.New(os.Stdout, "[overunder] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}
	logger.Printf("Config: %+v", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// deps are the long-lived clients; close releases them in reverse order.
type deps struct {
	store    storage.Store
	events   storage.EventSink
	archiver archive.Archiver
	locker   inflight.Locker
	cache    oracle.PriceCache
	closers  []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func connect(ctx context.Context, cfg *config.Config, logger *log.Logger) (*deps, error) {
	d := &deps{archiver: archive.Nop{}}

	if cfg.Storage.PostgresDSN == "" {
		logger.Println("Using in-memory storage")
		d.store = memory.NewStore()
	} else {
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return d, err
		}
		d.closers = append(d.closers, pool.Close)
		if cfg.Storage.RunMigrations {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return d, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		d.store = postgres.NewStore(pool)
	}

	if cfg.Redis.URL != "" {
		rc, err := redis.NewFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			return d, err
		}
		d.closers = append(d.closers, func() { _ = rc.Close() })
		d.locker = redis.NewLockManager(rc, cfg.Redis.Prefix)
		d.cache = redis.NewPriceCache(rc, cfg.Redis.Prefix, cfg.Oracle.USDCacheTTL.Duration)
		logger.Println("Redis locks and price cache enabled")
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return d, fmt.Errorf("clickhouse: %w", err)
		}
		d.closers = append(d.closers, func() { _ = conn.Close() })
		d.events = chstore.NewGameEventStore(conn)
		logger.Println("ClickHouse event sink enabled")
	}

	if cfg.Archive.Enabled() {
		a, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			return d, err
		}
		d.archiver = a
		logger.Printf("Archiving settlements to s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}
	return d, nil
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	d, err := connect(ctx, cfg, logger)
	defer d.close()
	if err != nil {
		return err
	}

	master, err := solana.KeypairFromBase58(cfg.Solana.MasterKey)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	logger.Printf("Master wallet: %s", master.PublicKey())

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.RPCTimeout.Duration),
		solana.WithMaxRetries(cfg.Solana.RPCMaxRetries),
		solana.WithRetryDelay(cfg.Solana.RPCRetryDelay.Duration),
	)
	commitment := solana.Commitment(cfg.Solana.Commitment)

	adapter, err := ledger.NewAdapter(rpc, ledger.Config{
		Master:             master,
		Commitment:         commitment,
		CreateUnitPrice:    cfg.Solana.CreateUnitPrice,
		SettleUnitPrice:    cfg.Solana.SettleUnitPrice,
		TransferUnitPrice:  cfg.Solana.TransferUnitPrice,
		SignaturePageLimit: cfg.Watcher.SignaturePageLimit,
		Logger:             log.New(os.Stdout, "[ledger] ", log.LstdFlags),
	})
	if err != nil {
		return err
	}

	prices := oracle.New(oracle.Config{
		JupiterHost:  cfg.Oracle.JupiterHost,
		CoinGeckoURL: cfg.Oracle.CoinGeckoURL,
		USDTTL:       cfg.Oracle.USDCacheTTL.Duration,
		Cache:        d.cache,
		Logger:       log.New(os.Stdout, "[oracle] ", log.LstdFlags),
	})

	sealer, err := secrets.NewSealer(cfg.Secrets.Passphrase, cfg.Secrets.Iterations)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Store:    d.store,
		Ledger:   adapter,
		Oracle:   prices,
		Vault:    secrets.NewVault(sealer, d.store.Secrets()),
		Events:   d.events,
		Archiver: d.archiver,
		Locker:   d.locker,
		Config: engine.Config{
			InitiateLamports: uint64(cfg.Solana.InitiateLamports),
			GameDuration:     cfg.Game.Duration.Duration,
			StartingPrice:    cfg.Game.StartingPrice,
			NetworkFee:       cfg.Game.NetworkFee,
			FeeBps:           cfg.Game.FeeBps,
			TaxCeiling:       cfg.Game.TaxCeiling,
			MaxAttempts:      cfg.Engine.MaxAttempts,
			InitialBackoff:   cfg.Engine.InitialBackoff.Duration,
			MaxBackoff:       cfg.Engine.MaxBackoff.Duration,
			LockTTL:          cfg.Redis.LockTTL.Duration,
		},
	})
	if err != nil {
		return err
	}

	var ws solana.WSClient
	if cfg.RunsWorkers() {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Commitment = commitment
		wsCfg.Logger = log.New(os.Stdout, "[ws] ", log.LstdFlags)
		client, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &wsCfg)
		if err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		defer client.Close()
		ws = client
	}

	watchers := make(map[watcher.Kind]*watcher.Watcher, 3)
	for _, kind := range []watcher.Kind{watcher.KindBuy, watcher.KindSell, watcher.KindRedeem} {
		w, err := watcher.New(kind, watcher.Options{
			Store:        d.store,
			Ledger:       adapter,
			Engine:       eng,
			WS:           ws,
			PollInterval: cfg.Watcher.PollInterval.Duration,
		})
		if err != nil {
			return err
		}
		watchers[kind] = w
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RunsWorkers() {
		for _, w := range watchers {
			g.Go(func() error { return w.Run(ctx) })
		}

		sched, err := scheduler.New(scheduler.Options{
			Store:        d.store,
			Settler:      eng,
			Tick:         cfg.Scheduler.Tick.Duration,
			ReleaseDelay: cfg.Scheduler.ReleaseDelay.Duration,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(ctx) })
	}

	if cfg.RunsAPI() {
		srv, err := server.New(server.Options{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			CORSOrigins:  cfg.Server.CORSOrigins,
			Store:        d.store,
			Starter:      eng,
			Buys:         watchers[watcher.KindBuy],
			Sells:        watchers[watcher.KindSell],
			Redeems:      watchers[watcher.KindRedeem],
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	logger.Printf("Running role %q", cfg.Role)
	started := time.Now()
	err = g.Wait()
	logger.Printf("Stopped after %v", time.Since(started).Round(time.Second))
	return err
}

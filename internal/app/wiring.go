package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
	"gorm.io/gorm"

	"tecnoico/internal/admin"
	httpapi "tecnoico/internal/api/http"
	"tecnoico/internal/api/http/handlers"
	"tecnoico/internal/api/http/mw"
	"tecnoico/internal/chain"
	"tecnoico/internal/config"
	rdsdedupe "tecnoico/internal/dedupe/redis"
	"tecnoico/internal/domain"
	"tecnoico/internal/metrics"
	"tecnoico/internal/pubsub/nats"
	"tecnoico/internal/purchase"
	"tecnoico/internal/security"
	"tecnoico/internal/settlement"
	"tecnoico/internal/stats"
	"tecnoico/internal/stores/clickhouse"
	"tecnoico/internal/stores/postgres"
	rds "tecnoico/internal/stores/redis"
)

type Container struct {
	app *App

	// infra
	redis *rds.Client
	ch    *clickhouse.Conn
	nc    *nats.Client
	chain *chain.Client

	// servers
	httpSrv *httpapi.Server

	// background work
	outboxWorker *settlement.OutboxWorker

	// metrics
	profiler *pyroscope.Profiler

	cleanupF func()
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}

	if c.cleanupF != nil {
		c.cleanupF()
	}
	return nil
}

// priceRef adapts the price repository to the purchase workflow.
type priceRef struct {
	repo *postgres.PriceRepo
}

func (p priceRef) ActivePriceID(ctx context.Context, token string) (*int64, error) {
	return p.repo.ActiveID(ctx, token)
}

// depChecker backs the readiness endpoint.
type depChecker struct {
	db    *gorm.DB
	rdb   *rds.Client
	ch    *clickhouse.Conn
	nc    *nats.Client
	chain *chain.Client
}

func (d *depChecker) CheckDependency(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("postgres handle: %w", err)
	}
	if err = sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err = d.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if err = d.ch.Native.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}

	if !d.nc.Ready() {
		return errors.New("nats connection not ready")
	}

	if err = d.chain.VerifyChainID(ctx); err != nil {
		return fmt.Errorf("chain node: %w", err)
	}
	return nil
}

// Construct image app
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		Enabled:       cfg.Metrics.Pyroscope.Enabled,
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Metrics.Pyroscope.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope.ServerAddr,
		AuthToken:     cfg.Metrics.Pyroscope.AuthToken,
		Tags:          cfg.Metrics.Pyroscope.Tags,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pyroscope initialize failed: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	rdb, err := rds.New(ctx, cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	lg.Info("Successfully initialize redis client")

	// Postgres
	db, err := postgres.Open(cfg.Stores.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	txRepo := postgres.NewTransactionRepo(db)
	priceRepo := postgres.NewPriceRepo(db)
	timerRepo := postgres.NewTimerRepo(db)
	outboxRepo := postgres.NewOutboxRepo(db)
	lg.Info("Successfully initialize postgres repositories")

	// ClickHouse client + batch writer
	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
	}
	url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
	lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

	chWriter := clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
	lg.Info("Successfully initialize clickhouse writer")

	// NATS Broadcaster
	natsCl, err := nats.New(lg, &cfg.PubSub.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize nats client: %w", err)
	}

	// Chain client + contract bindings
	chainCl, err := chain.Dial(ctx, lg, &cfg.Chain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chain client: %w", err)
	}

	sale, err := chain.NewSale(chainCl, common.HexToAddress(cfg.Chain.Contracts.Sale))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind sale contract: %w", err)
	}
	staking, err := chain.NewStaking(chainCl, common.HexToAddress(cfg.Chain.Contracts.Staking))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind staking contract: %w", err)
	}
	registry, err := chain.NewAdminRegistry(chainCl, common.HexToAddress(cfg.Chain.Contracts.Admins))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind admin registry: %w", err)
	}
	usdt, err := chain.NewERC20(chainCl, common.HexToAddress(cfg.Chain.Contracts.USDT))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind USDT: %w", err)
	}
	usdc, err := chain.NewERC20(chainCl, common.HexToAddress(cfg.Chain.Contracts.USDC))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind USDC: %w", err)
	}
	token, err := chain.NewERC20(chainCl, common.HexToAddress(cfg.Chain.Contracts.Token))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind sale token: %w", err)
	}
	lg.Infof("Successfully bound contracts, sale=%s chain_id=%d", cfg.Chain.Contracts.Sale, cfg.Chain.ChainID)

	tokenDecimals := 18
	if dec, derr := token.Decimals(ctx); derr == nil {
		tokenDecimals = int(dec)
	} else {
		lg.Warnf("Token decimals read failed, assuming 18: %v", derr)
	}

	// Dedupe
	deduper, err := rdsdedupe.NewRedisDeduper(lg, &cfg.Dedupe, rdb)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis deduper: %w", err)
	}
	lg.Infof("Successfully initialize Deduper redis_client by prefix %s", cfg.Dedupe.Prefix)

	// Stats tracker
	tracker := stats.NewTracker(lg)

	// Settlement pipeline
	sink := settlement.MultiSink{tracker, clickhouse.NewSaleSink(lg, chWriter)}
	settleSvc := settlement.NewService(lg, deduper, txRepo, outboxRepo, natsCl, sink, cfg.Settlement.OutboxBaseBackoff)

	outboxWorker := settlement.NewOutboxWorker(lg, outboxRepo, txRepo, natsCl, sink, cfg.Settlement)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	outboxWorker.Start(workerCtx)
	lg.Info("Successfully initialize settlement pipeline")

	// Purchase workflow
	minUSD, err := decimal.NewFromString(cfg.Purchase.MinUSD)
	if err != nil {
		minUSD = decimal.NewFromInt(100)
	}
	maxUSD, err := decimal.NewFromString(cfg.Purchase.MaxUSD)
	if err != nil {
		maxUSD = decimal.NewFromInt(100000)
	}

	backend := purchase.NewChainBackend(chainCl, sale, map[domain.Currency]*chain.ERC20{
		domain.CurrencyUSDT: usdt,
		domain.CurrencyUSDC: usdc,
	})
	purchaseSvc := purchase.NewService(lg, backend, settleSvc, priceRef{repo: priceRepo}, purchase.Opts{
		MinUSD:        minUSD,
		MaxUSD:        maxUSD,
		ApproveDelay:  cfg.Purchase.ApproveDelay,
		TokenSymbol:   cfg.Purchase.TokenSymbol,
		TokenDecimals: tokenDecimals,
	})

	// Admin control plane
	adminSvc := admin.NewService(lg, sale, staking, registry, chainCl, priceRepo, natsCl, cfg.Purchase.TokenSymbol)

	// Security
	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			workerCancel()
			return nil, nil, fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	// HTTP API
	h := handlers.NewHandler(lg)
	h.Purchases = purchaseSvc
	h.Txs = txRepo
	h.Prices = priceRepo
	h.Timers = timerRepo
	h.Admin = adminSvc
	h.Stats = tracker
	h.Bcast = natsCl
	h.Readiness = &depChecker{db: db, rdb: rdb, ch: ch, nc: natsCl, chain: chainCl}
	if cfg.Purchase.TokenSymbol != "" {
		h.TokenSymbol = cfg.Purchase.TokenSymbol
	}

	logMW := &mw.LoggingMiddleware{Log: lg}

	var jwtMW *mw.JWTMiddleware
	if verifier != nil {
		jwtMW = mw.NewJWTMiddleware(verifier)
	}

	rlMW := mw.NewRateLimit(rdb.Client, mw.RateLimitConfig{
		ByJWT: mw.RateBucket{
			RefillPerSec: cfg.RateLimit.ByJWT.RefillPerSec,
			Burst:        cfg.RateLimit.ByJWT.Burst,
			TTL:          cfg.RateLimit.ByJWT.TTL,
		},
		ByIP: mw.RateBucket{
			RefillPerSec: cfg.RateLimit.ByIP.RefillPerSec,
			Burst:        cfg.RateLimit.ByIP.Burst,
			TTL:          cfg.RateLimit.ByIP.TTL,
		},
		Verifier: verifier,
	})

	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORSConfig(&cfg.API.HTTP.CORS)
	}

	router := httpapi.BuildRouter(h, logMW, rlMW, jwtMW, corsMW)
	httpSrv := httpapi.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	// Background maintenance: window eviction and the outbox gauge.
	maintDone := make(chan struct{})
	go func() {
		evict := time.NewTicker(time.Minute)
		gauge := time.NewTicker(30 * time.Second)
		defer evict.Stop()
		defer gauge.Stop()

		for {
			select {
			case now := <-evict.C:
				tracker.Tick(now)
			case <-gauge.C:
				gctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if n, gerr := outboxRepo.PendingCount(gctx); gerr == nil {
					metrics.OutboxPending.Set(float64(n))
				}
				cancel()
			case <-maintDone:
				return
			}
		}
	}()

	c := &Container{
		app:          NewApp(lg, httpSrv),
		redis:        rdb,
		ch:           ch,
		nc:           natsCl,
		chain:        chainCl,
		httpSrv:      httpSrv,
		outboxWorker: outboxWorker,
		profiler:     profiler,
	}

	// idempotent: invoked both on Stop and by the caller's defer
	var cleanupOnce sync.Once
	cleanupF := func() {
		cleanupOnce.Do(func() {
			ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			close(maintDone)

			workerCancel()
			outboxWorker.Stop()
			// one last pass so nothing sits in the outbox over a restart
			outboxWorker.Drain(ctxClean)

			if c.profiler != nil {
				if err := c.profiler.Stop(); err != nil {
					lg.Errorf("Failed to stop profiler: %v", err)
				}
			}

			if err := chWriter.Close(ctxClean); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
			}

			if err := ch.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
			}

			if err := natsCl.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF nats client: %v", err)
			}

			chainCl.Close()

			if err := rdb.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF redis client: %v", err)
			}

			lg.Info("Successfully cleaned up dependency")
		})
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}

// Package app assembles the worker: storage backend, domain services,
// capability clients, and lifecycle-managed background services.
package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/functions"
	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	pricefeedsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/pricefeed"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/secrets"
	transactionsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/transaction"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/triggers"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/memory"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/redisstore"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/system"
	"github.com/r3e-network/neo-service-layer-sub007/internal/config"
	"github.com/r3e-network/neo-service-layer-sub007/internal/enclave"
	"github.com/r3e-network/neo-service-layer-sub007/internal/runtime/sandbox"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

const refreshInterval = 30 * time.Second

// Dependencies allows callers to inject pre-built infrastructure. Nil
// fields are constructed from configuration.
type Dependencies struct {
	Objects       storage.ObjectStore
	Provider      secrets.SecurityProvider
	SandboxLogger *zap.Logger
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Objects  storage.ObjectStore
	Provider secrets.SecurityProvider

	Functions    *functions.Service
	GasBank      *gasbanksvc.Service
	PriceFeeds   *pricefeedsvc.Service
	Triggers     *triggers.Service
	Transactions *transactionsvc.Service
}

// New builds a fully initialised application.
func New(ctx context.Context, cfg *config.Config, deps Dependencies, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	objects := deps.Objects
	if objects == nil {
		var err error
		objects, err = buildObjectStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
	}

	provider := deps.Provider
	if provider == nil {
		var err error
		provider, err = buildSecurityProvider(log)
		if err != nil {
			return nil, err
		}
	}

	sandboxLogger := deps.SandboxLogger
	if sandboxLogger == nil {
		var err error
		sandboxLogger, err = zap.NewProduction()
		if err != nil {
			sandboxLogger = zap.NewNop()
		}
	}

	manager := system.NewManager()

	gasService := gasbanksvc.New(objects, gasbanksvc.Options{
		MinAllocationAmount:  cfg.GasBank.MinAllocationAmount,
		MaxAllocationPerUser: cfg.GasBank.MaxAllocationPerUser,
		DefaultTTL:           cfg.GasBank.DefaultTTL,
	}, log.WithField("service", "gasbank"))

	priceService := pricefeedsvc.New(objects, log.WithField("service", "pricefeed"))
	triggerService := triggers.New(objects, log.WithField("service", "triggers"))

	txService, err := transactionsvc.New(objects, gasService, nil, log.WithField("service", "transactions"))
	if err != nil {
		return nil, fmt.Errorf("build transaction service: %w", err)
	}

	sandboxCfg := sandbox.Config{
		MemoryLimit:            cfg.Sandbox.MemoryLimitBytes,
		TimeoutMillis:          cfg.Sandbox.TimeoutMillis,
		StackSize:              cfg.Sandbox.StackSizeBytes,
		EnableInteroperability: cfg.Sandbox.EnableInteroperability,
		ServiceLayerURL:        cfg.Sandbox.ServiceLayerURL,
		Logger:                 sandboxLogger,
	}
	funcService := functions.New(objects, provider, sandboxCfg, log.WithField("service", "functions"))
	funcService.AttachClients(&sandbox.Services{
		GasBank:     gasBankClient{svc: gasService},
		PriceFeed:   priceFeedClient{svc: priceService},
		Trigger:     triggerClient{svc: triggerService},
		Transaction: transactionClient{svc: txService, ledger: gasService},
		Wallet:      walletClient{key: txService.SigningKey()},
		Storage:     storageClient{objects: objects},
		Oracle:      oracleClient{prices: priceService},
	})

	sweeper := gasbanksvc.NewSweeper(gasService, cfg.GasBank.SweepInterval, log.WithField("service", "gasbank-sweeper"))
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register sweeper: %w", err)
	}

	refresher := buildPriceRefresher(priceService, log)
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register price refresher: %w", err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		Objects:      objects,
		Provider:     provider,
		Functions:    funcService,
		GasBank:      gasService,
		PriceFeeds:   priceService,
		Triggers:     triggerService,
		Transactions: txService,
	}, nil
}

func buildObjectStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       cfg.Storage.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Infof("using redis object store at %s", cfg.Storage.RedisAddr)
		return store, nil
	default:
		log.Info("using in-memory object store")
		return memory.New(), nil
	}
}

// buildSecurityProvider reads the master secret from the environment. With
// no secret configured an ephemeral key is generated; sealed secrets then
// do not survive a restart.
func buildSecurityProvider(log *logger.Logger) (secrets.SecurityProvider, error) {
	master := []byte(os.Getenv("MASTER_SECRET"))
	if len(master) == 0 {
		log.Warn("MASTER_SECRET not set; using an ephemeral master secret")
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("generate master secret: %w", err)
		}
	}
	provider, err := secrets.NewLocalProvider(master)
	if err != nil {
		return nil, fmt.Errorf("build security provider: %w", err)
	}
	return provider, nil
}

func buildPriceRefresher(priceService *pricefeedsvc.Service, log *logger.Logger) *pricefeedsvc.Refresher {
	var pairs []string
	if raw := strings.TrimSpace(os.Getenv("PRICEFEED_PAIRS")); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			if pair = strings.TrimSpace(pair); pair != "" {
				pairs = append(pairs, pair)
			}
		}
	}

	refresher := pricefeedsvc.NewRefresher(priceService, pairs, refreshInterval, log.WithField("service", "pricefeed-refresher"))
	if endpoint := strings.TrimSpace(os.Getenv("PRICEFEED_FETCH_URL")); endpoint != "" {
		pricePath := os.Getenv("PRICEFEED_PRICE_PATH")
		if pricePath == "" {
			pricePath = "price"
		}
		httpClient := &http.Client{Timeout: 10 * time.Second}
		fetcher, err := pricefeedsvc.NewHTTPFetcher(httpClient, endpoint, os.Getenv("PRICEFEED_FETCH_KEY"), pricePath, log)
		if err != nil {
			log.WithError(err).Warn("configure price feed fetcher")
		} else {
			refresher.WithFetcher(fetcher)
		}
	} else {
		log.Warn("PRICEFEED_FETCH_URL not set; price feed refresher idle")
	}
	return refresher
}

// EnclaveBackends exposes the services the envelope router dispatches into.
func (a *Application) EnclaveBackends() enclave.Backends {
	return enclave.Backends{
		Functions:    a.Functions,
		GasBank:      a.GasBank,
		PriceFeeds:   a.PriceFeeds,
		Triggers:     a.Triggers,
		Transactions: a.Transactions,
	}
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

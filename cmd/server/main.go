package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/subpay/backend/internal/api"
	"github.com/subpay/backend/internal/config"
	"github.com/subpay/backend/internal/events"
	"github.com/subpay/backend/internal/infra"
	"github.com/subpay/backend/internal/ledger"
	"github.com/subpay/backend/internal/ledger/erc20"
	"github.com/subpay/backend/internal/metrics"
	"github.com/subpay/backend/internal/payment"
	"github.com/subpay/backend/internal/policy"
	"github.com/subpay/backend/internal/validator"
	"github.com/subpay/backend/internal/whitelist"
)

func main() {
	log.Println("starting subpay delegated-payment engine...")

	// .env is optional; real deployments inject env directly.
	_ = godotenv.Load()

	path := os.Getenv("SUBPAY_CONFIG")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	owner := cfg.OwnerPrincipal()
	spender := cfg.SpenderPrincipal()
	m := metrics.New()

	// Notification bus: Pub/Sub fan-out when configured, in-process only
	// otherwise. The websocket feed always rides the in-process side.
	var (
		emitter  events.Emitter
		localBus *events.Bus
	)
	if cfg.PubSub.ProjectID != "" {
		psBus, err := events.NewPubSubBus(cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			log.Fatalf("pubsub bus: %v", err)
		}
		defer psBus.Close()
		emitter, localBus = psBus, psBus.Bus
	} else {
		bus := events.NewBus()
		emitter, localBus = bus, bus
	}

	// Global whitelist store: Redis when configured, in-memory fallback.
	var wlStore whitelist.Store
	if cfg.Redis.Addr != "" {
		adapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer adapter.Close()
		wlStore = whitelist.NewRedisStore(adapter, "")
	} else {
		log.Println("redis not configured, global whitelist is in-memory")
		wlStore = whitelist.NewMemoryStore()
	}

	// Policy store: Postgres when configured, in-memory fallback.
	var polStore policy.Store
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres open: %v", err)
		}
		defer db.Close()
		pg := policy.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("postgres schema: %v", err)
		}
		cancel()
		polStore = pg
	} else {
		log.Println("postgres not configured, policies are in-memory")
		polStore = policy.NewMemoryStore()
	}

	// External ledger: ERC-20 over an EVM RPC when configured, otherwise
	// the in-process ledger for local development.
	var assetLedger ledger.Ledger
	if cfg.Ethereum.RPCURL != "" {
		assetLedger = mustDialERC20(cfg.Ethereum.RPCURL)
	} else {
		log.Println("ethereum not configured, using in-memory ledger")
		assetLedger = ledger.NewMemoryLedger(spender)
	}

	wl := whitelist.NewService(owner, wlStore, emitter, m)
	registry := policy.NewRegistry(owner, polStore, m)
	guards := validator.New(owner, polStore, wl)
	payments := payment.NewService(owner, polStore, guards, assetLedger, emitter, m)
	allowance := payment.NewAllowanceBridge(owner, spender, polStore, assetLedger, emitter, m)

	server := api.NewServer(registry, wl, payments, allowance, api.NewEventFeed(localBus))
	if err := server.Start(cfg.Server.Port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func mustDialERC20(rpcURL string) ledger.Ledger {
	keyHex := strings.TrimPrefix(os.Getenv("ETH_EXECUTOR_KEY"), "0x")
	if keyHex == "" {
		log.Fatal("ETH_EXECUTOR_KEY required when ethereum.rpc_url is set")
	}
	key, err := gethcrypto.HexToECDSA(keyHex)
	if err != nil {
		log.Fatalf("executor key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		log.Fatalf("ethereum dial: %v", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		log.Fatalf("ethereum chain id: %v", err)
	}
	executor, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		log.Fatalf("executor transactor: %v", err)
	}
	adapter, err := erc20.NewAdapter(client, executor)
	if err != nil {
		log.Fatalf("erc20 adapter: %v", err)
	}
	log.Printf("ethereum ledger connected chain=%s executor=%s", chainID, executor.From.Hex())
	return adapter
}

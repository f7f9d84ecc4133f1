package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/config"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/database"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/engine"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/flow"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/handler"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/intent"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/ledger"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/queue"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/reconcile"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/repository"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/router"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/service"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env always wins
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("database schema: %v", err)
	}
	sessions := repository.NewAuthSessionRepo(db)
	journal := repository.NewJournalRepo(db)

	// Cache store: Redis when reachable, in-memory otherwise. Degrading
	// costs cross-instance consistency, not correctness.
	var store cache.Store
	if client := config.NewRedisClient(); client != nil {
		store = cache.NewRedisStore(client, cfg.RedisPrefix, cfg.RedisTTL)
	} else {
		log.Printf("redis unavailable, using in-memory booking cache")
		store = cache.NewMemoryStore()
	}
	bookings := cache.NewBookingCache(store)

	bus := events.NewMemoryBus()
	reconciler := reconcile.New(engine.NewInvalidator(bookings), bus, cfg.ReconcileInterval, cfg.ReconcileMaxWait)
	reconciler.OnTimeout = func(e reconcile.Entry) {
		log.Printf("reconciler: %s still unconfirmed after %s; surface a delayed-confirmation notice", e.ID, cfg.ReconcileMaxWait)
	}

	walletFlow := flow.New(true, cfg.ToleranceSec, bus)
	instFlow := flow.New(true, cfg.ToleranceSec, bus)

	intents := &intent.Orchestrator{
		Client: intent.NewClient(cfg.IntentBaseURL, cfg.IntentTimeout),
		Opener: &intent.HeadlessOpener{OnOpen: func(url string) {
			log.Printf("intent: authorization pending at %s", url)
		}},
		AuthPolicy: retry.Policy{Interval: cfg.AuthPollInterval, MaxDuration: cfg.AuthMaxWait},
		ExecPolicy: retry.Policy{Interval: cfg.ExecPollInterval, MaxDuration: cfg.ExecMaxWait},
		Observer: func(a intent.Attempt) {
			if a.SessionID == "" {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := sessions.Upsert(ctx, repository.AuthSessionRecord{
				SessionID:   a.SessionID,
				UserAddress: a.UserAddress,
				Stage:       string(a.Stage),
				RequestID:   a.RequestID,
				Reason:      a.Reason,
				TokenHash:   utils.HashToken(a.BackendAuthToken),
			})
			if err != nil {
				log.Printf("auth-sessions: persist %s failed: %v", a.SessionID, err)
			}
		},
	}

	var writer ledger.Writer
	if cfg.WalletRelayURL != "" {
		writer = ledger.NewRelayWriter(cfg.WalletRelayURL, 0)
	} else {
		writer = ledger.WriterFunc(func(context.Context, string, []string) (string, error) {
			return "", errors.New("no wallet relay configured")
		})
	}

	wallet, err := engine.NewMutator(engine.ModeWallet, engine.Deps{
		Cache:      bookings,
		Flow:       walletFlow,
		Bus:        bus,
		Reconciler: reconciler,
		Ledger:     writer,
		Publisher:  queue.NewPublisher(),
	})
	if err != nil {
		log.Fatalf("wallet mutator: %v", err)
	}
	institutional, err := engine.NewMutator(engine.ModeInstitutional, engine.Deps{
		Cache:      bookings,
		Flow:       instFlow,
		Bus:        bus,
		Reconciler: reconciler,
		Intents:    intents,
	})
	if err != nil {
		log.Fatalf("institutional mutator: %v", err)
	}
	defer wallet.Close()
	defer institutional.Close()

	// Chain confirmations arrive over the broker and converge the cache,
	// the journal and the flow machines.
	bridge := &service.ChainBridge{
		Cache:      bookings,
		Bus:        bus,
		Journal:    journal,
		WalletFlow: walletFlow,
		InstFlow:   instFlow,
	}
	go func() {
		if err := queue.StartChainEventConsumer(bridge); err != nil {
			log.Printf("chain-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e, handler.NewBookingHandler(bookings))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg.JWTSecret, cfg.SSOGatewayKey, cfg.TokenTTLMin))
	router.RegisterReservations(e,
		handler.NewReservationHandler(wallet, institutional, walletFlow, instFlow),
		cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// Command marketd runs the rental bidding marketplace.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cloudx-io/rentauction/attest"
	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/config"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/gateway"
	"github.com/cloudx-io/rentauction/ledger"
	"github.com/cloudx-io/rentauction/migrations"
	"github.com/cloudx-io/rentauction/oracle"
	"github.com/cloudx-io/rentauction/payment"
	"github.com/cloudx-io/rentauction/relay"
	"github.com/cloudx-io/rentauction/settlement"
	"github.com/cloudx-io/rentauction/storage/outbox"
	"github.com/cloudx-io/rentauction/storage/postgres"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("ERROR: Invalid configuration: %v", err)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Printf("INFO: Marketplace stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	properties := postgres.NewPropertyRepository(pool)
	criteria := postgres.NewCriteriaRepository(pool)
	records := postgres.NewSettlementRepository(pool)

	sysClock := clock.NewSystem()
	bus := eventbus.New(eventbus.WithBufferSize(cfg.SubscriberBuffer), eventbus.WithClock(sysClock))

	market := ledger.New(
		ledger.WithJournal(properties),
		ledger.WithPublisher(bus),
		ledger.WithClock(sysClock),
		ledger.WithWindowDuration(cfg.WindowDuration),
		ledger.WithStartPolicy(cfg.StartPolicy),
	)
	defer market.Stop()

	sealer, err := loadSealer(cfg.SigningKeyFile, sysClock)
	if err != nil {
		return err
	}
	publicKey, err := sealer.PublicKeyPEM()
	if err != nil {
		return fmt.Errorf("failed to encode public key: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	rates := oracle.NewCached(oracle.NewCoinGecko(cfg.CoinGeckoURL), rdb, cfg.RateCacheTTL)

	coordinator := settlement.NewCoordinator(market, payment.NewSimulated(sysClock), rates,
		settlement.WithRecordStore(records),
		settlement.WithSealer(sealer),
		settlement.WithPublisher(bus),
		settlement.WithClock(sysClock),
		settlement.WithPaymentTimeout(cfg.PaymentTimeout),
	)
	market.OnClose(coordinator.HandleClose)

	if cfg.RelayEnabled() {
		stopRelay, err := startRelay(ctx, cfg, bus)
		if err != nil {
			return err
		}
		defer stopRelay()
	}

	// Before Restore, so no attempt of this process is mistaken for an interrupted one
	if n, err := coordinator.RecoverPending(startupCtx); err != nil {
		return fmt.Errorf("failed to recover interrupted settlements: %w", err)
	} else if n > 0 {
		log.Printf("WARNING: Marked %d interrupted settlements FAILED, operator retry required", n)
	}

	listings, err := properties.LoadAll(startupCtx)
	if err != nil {
		return fmt.Errorf("failed to load properties: %w", err)
	}
	for _, l := range listings {
		if err := market.Restore(ctx, l.Property, l.Bids); err != nil {
			return fmt.Errorf("failed to restore property %s: %w", l.Property.ID, err)
		}
	}
	log.Printf("INFO: Restored %d properties (window start policy %s)", len(listings), market.Policy())

	server := gateway.New(market, coordinator, criteria, bus, gateway.Config{
		JWTSecret:    []byte(cfg.JWTSecret),
		MaxSockets:   cfg.MaxSockets,
		PublicKeyPEM: publicKey,
	})

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.Start(":" + cfg.Port)
	}()

	select {
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("gateway failed: %w", err)
		}
	case <-ctx.Done():
		log.Printf("INFO: Shutdown signal received, stopping gateway")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Gateway shutdown: %v", err)
	}
	return nil
}

// loadSealer reads the proof signing key, or generates one for this process.
func loadSealer(path string, c clock.Clock) (*attest.Sealer, error) {
	if path == "" {
		log.Printf("WARNING: SIGNING_KEY_FILE not set, settlement proofs use an ephemeral key")
		return attest.NewSealer(c)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := attest.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key %s: %w", path, err)
	}
	return attest.NewSealerFromKey(key, c)
}

// startRelay captures bus events into the outbox and forwards them to Kafka.
// The returned func stops both and closes the outbox.
func startRelay(ctx context.Context, cfg config.Config, bus *eventbus.Bus) (func(), error) {
	box, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	producer, err := relay.NewProducer(cfg.KafkaDriver, cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		_ = box.Close()
		return nil, fmt.Errorf("failed to create %s producer: %w", cfg.KafkaDriver, err)
	}

	relayCtx, cancel := context.WithCancel(ctx)
	sub := bus.Subscribe(eventbus.TopicAnalysis, eventbus.TopicNotifications)
	captured := make(chan struct{})
	go func() {
		defer close(captured)
		if err := relay.Capture(relayCtx, sub, box); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: Event capture stopped: %v", err)
		}
	}()

	broadcaster := relay.NewBroadcaster(box, producer, relay.WithInterval(cfg.RelayInterval))
	broadcaster.Start(relayCtx)
	log.Printf("INFO: Relaying events to %v topic %s via %s", cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaDriver)

	return func() {
		cancel()
		bus.Unsubscribe(sub)
		<-captured
		if err := broadcaster.Close(); err != nil {
			log.Printf("ERROR: Failed to close relay producer: %v", err)
		}
		if err := box.Close(); err != nil {
			log.Printf("ERROR: Failed to close outbox: %v", err)
		}
	}, nil
}

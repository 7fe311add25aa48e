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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/config"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/api"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/crypto"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/decision"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/deduplication"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ipfs"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ledger"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/locks"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/metrics"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/orchestrator"
	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/scoring"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/store"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/workers"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.SettingsObj
	config.WatchConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.Infof("Connected to Redis at %s", cfg.RedisAddr())

	keyBuilder := redislib.NewKeyBuilder(cfg.RedisNamespace, cfg.ContractAddress)
	submissionStore := store.NewRedisStore(redisClient, keyBuilder)

	// Ledger
	ledgerClient, err := ledger.NewClient(ctx, ledger.Config{
		RPCURL:          cfg.RPCURL,
		ChainID:         cfg.ChainID,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ABIPath:         cfg.ContractABIPath,
		ConfirmTimeout:  cfg.LedgerConfirmTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize ledger client")
	}
	defer ledgerClient.Close()

	// Lifecycle events: Redis Pub/Sub and Prometheus counters
	emitter := events.NewEmitter(&events.EmitterConfig{
		BufferSize:     events.DefaultBufferSize,
		MaxWorkers:     events.DefaultMaxWorkers,
		EventTimeout:   events.DefaultEventTimeout,
		DropOnOverflow: true,
		InstanceID:     cfg.InstanceID,
	})
	publisher, err := events.NewPublisher(redisClient, keyBuilder)
	if err != nil {
		log.WithError(err).Fatal("Failed to create event publisher")
	}
	if err := emitter.Subscribe(publisher.AsSubscriber()); err != nil {
		log.WithError(err).Fatal("Failed to subscribe event publisher")
	}
	if err := emitter.Subscribe(metrics.EventCollector()); err != nil {
		log.WithError(err).Fatal("Failed to subscribe event collector")
	}
	if err := emitter.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start event emitter")
	}

	dedup, err := deduplication.NewDeduplicator(redisClient, keyBuilder, cfg.DedupLocalCacheSize, cfg.DedupTTL)
	if err != nil {
		log.WithError(err).Fatal("Failed to create deduplicator")
	}

	var archiver ipfs.Archiver
	if cfg.IPFSURL != "" {
		ipfsClient, err := ipfs.NewClient(cfg.IPFSURL)
		if err != nil {
			log.WithError(err).Warn("Failed to create IPFS client, mint receipts will not be archived")
		} else {
			if !ipfsClient.IsAvailable(ctx) {
				log.WithField("url", cfg.IPFSURL).Warn("IPFS node not reachable yet, archiving will be retried per mint")
			}
			archiver = ipfsClient
		}
	}

	var checkRef submissions.ReferenceValidator
	if cfg.ContentRefStrict {
		checkRef = ipfs.ParseReference
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      submissionStore,
		Scorer:     scoring.NewClient(cfg.ScoringURL, cfg.ScoringTimeout),
		Decision:   decision.NewEngine(config.FraudThreshold),
		Ledger:     ledgerClient,
		Locker:     locks.NewRedisLocker(redisClient, keyBuilder, cfg.LedgerLockTTL(), cfg.LockWait),
		Dedup:      dedup,
		Archiver:   archiver,
		Notifier:   emitter,
		CheckRef:   checkRef,
		TokenScale: cfg.TokenScale,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create orchestrator")
	}

	// Administrative access
	var verifier *crypto.EIP712Verifier
	if len(cfg.AdminAddresses) > 0 {
		if cfg.ContractAddress == "" {
			log.Warn("ADMIN_ADDRESSES set without CONTRACT_ADDRESS, signed admin requests are disabled")
		} else {
			verifier, err = crypto.NewEIP712Verifier(cfg.ChainID, cfg.ContractAddress)
			if err != nil {
				log.WithError(err).Fatal("Failed to create EIP-712 verifier")
			}
		}
	}
	authorizer, err := crypto.NewAdminAuthorizer(cfg.AdminAuthToken, cfg.AdminAddresses, verifier, dedup, cfg.AdminSignatureWindow)
	if err != nil {
		log.WithError(err).Fatal("Failed to create admin authorizer")
	}

	overview := workers.NewOverviewReader(redisClient, keyBuilder).
		WithStats("events", emitter.GetMetrics).
		WithStats("publisher", publisher.GetMetrics)

	apiServer := api.NewServer(orch, submissionStore, authorizer, api.Config{
		AllowedOrigins: cfg.FrontendOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Overview:       overview,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background stale-record monitor
	staleMonitor := workers.NewStaleMonitor(submissionStore, redisClient, keyBuilder, cfg.InstanceID, emitter, cfg.StaleAfter, cfg.StaleScanInterval)
	go staleMonitor.Run(ctx)

	// Start metrics server
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.WithField("port", cfg.MetricsPort).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Start HTTP server
	go func() {
		log.WithField("addr", httpServer.Addr).Info("Starting registry API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down registry service...")

	// in-flight submissions may be waiting on a mint confirmation
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.LedgerConfirmTimeout+10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to gracefully shutdown HTTP server")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	cancel()
	if err := emitter.Stop(); err != nil {
		log.WithError(err).Warn("Event emitter stop")
	}

	log.Info("Registry service stopped")
}

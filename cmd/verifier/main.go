// Copyright 2025 Certen Protocol
//
// cmd/verifier is the service entrypoint: load config, wire the fetch
// clients, the per-call verification service, the durable queue, the
// cron scheduler, and the admin HTTP surface, then run until a shutdown
// signal arrives. Grounded on the teacher's own main.go wiring order
// (config -> database -> dependent clients -> long-running components ->
// http.ServeMux -> signal.Notify/graceful-shutdown), generalized from the
// BFT-validator/batch-anchoring wiring to C1-C11's attestation-service
// wiring.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certen/tee-verifier/pkg/appsync"
	"github.com/certen/tee-verifier/pkg/config"
	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/fetch"
	"github.com/certen/tee-verifier/pkg/queue"
	"github.com/certen/tee-verifier/pkg/scheduler"
	"github.com/certen/tee-verifier/pkg/server"
	"github.com/certen/tee-verifier/pkg/service"
	"github.com/certen/tee-verifier/pkg/storage"
	"github.com/certen/tee-verifier/pkg/verifier"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var showHelp = flag.Bool("help", false, "Show help message")
	flag.Parse()
	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		if cfg.Env == "production" {
			log.Fatal(err)
		}
		log.Printf("warning: %v (continuing in %s mode)", err, cfg.Env)
	}
	if cfg.CronAPIKey == "" {
		log.Println("warning: CRON_API_KEY is unset — the admin /cron/* surface is unauthenticated")
	}

	log.Println("connecting to postgres...")
	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatal("database connection failed:", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Printf("warning: migration failed: %v", err)
	}
	repos := database.NewRepositories(dbClient)

	log.Println("connecting to redis...")
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("invalid REDIS_URL:", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	var sink *storage.ArtifactSink
	if cfg.S3Bucket != "" {
		sink, err = storage.NewArtifactSink(context.Background(), cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3Bucket)
		if err != nil {
			log.Printf("warning: artifact sink unavailable, reports will not be persisted to object storage: %v", err)
		}
	}

	svc := buildService(cfg)

	q := queue.New(queue.Options{
		QueueName:           cfg.QueueName,
		Concurrency:         cfg.QueueConcurrency,
		VerificationTimeout: 5 * time.Minute,
		DefaultFlags:        verifier.ParseFlagsCSV(cfg.VerificationFlags),
	}, redisClient, repos.Tasks, repos.Apps, sink, svc, log.New(log.Writer(), "[queue] ", log.LstdFlags))

	qCtx, qCancel := context.WithCancel(context.Background())
	defer qCancel()
	q.Start(qCtx)
	defer q.Close()

	syncSvc := appsync.NewService(buildMetabaseClient(cfg), cfg.MetabaseAppsCardID, cfg.MetabaseProfilesCardID, repos, log.New(log.Writer(), "[appsync] ", log.LstdFlags))

	sched, err := buildScheduler(cfg, syncSvc, q)
	if err != nil {
		log.Fatal("failed to build scheduler:", err)
	}
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if err := sched.StartAll(schedCtx); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer sched.StopAll()

	admin := server.NewAdminHandlers(
		"tee-verifier",
		cfg.CronAPIKey,
		sched,
		q,
		func(ctx context.Context) error { return dbClient.Ping(ctx) },
		repos.Tasks.GetLatestCompletedTask,
		func(ctx context.Context) (int, error) {
			validAppIDs := func(ctx context.Context) ([]string, error) {
				apps, err := syncSvc.GetValidApps(ctx)
				if err != nil {
					return nil, err
				}
				ids := make([]string, len(apps))
				for i, app := range apps {
					ids[i] = app.AppID
				}
				return ids, nil
			}
			enqueue := func(ctx context.Context, appID string) error {
				_, err := q.AddTask(ctx, appID, true)
				return err
			}
			return scheduler.ForceRefreshAllApps(ctx, validAppIDs, enqueue)
		},
		log.New(log.Writer(), "[admin] ", log.LstdFlags),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", admin.HandleHealth)
	mux.HandleFunc("/health/detailed", admin.HandleHealthDetailed)
	mux.HandleFunc("/cron/start-all", admin.HandleCronStartAll)
	mux.HandleFunc("/cron/stop-all", admin.HandleCronStopAll)
	mux.HandleFunc("/cron/force-refresh-apps", admin.HandleCronForceRefreshApps)
	mux.HandleFunc("/cron/status", admin.HandleCronStatus)
	mux.HandleFunc("/cron/", admin.HandleCronAction)

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		log.Printf("admin surface listening on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	log.Println("shutdown complete")
}

func printHelp() {
	log.Println("tee-verifier: attestation verification service")
	log.Println("  -help   show this message")
	log.Println("configuration is read entirely from the environment; see pkg/config for the full list")
}

// buildService wires C4's per-call verification service from the fetch
// adapters of C1, skipping any component the deployment did not
// configure (nil adapters are valid — the chain treats their absence as
// a skipped/unavailable step, not a construction error).
func buildService(cfg *config.Config) *service.Service {
	var ctLogClient fetch.CTLogClient
	if cfg.CTLogBaseURL != "" {
		ctLogClient = fetch.NewHTTPCTLogClient(cfg.CTLogBaseURL)
	}

	var itaClient fetch.ITAClient
	if cfg.ITABaseURL != "" {
		itaClient = fetch.NewITAClient(cfg.ITABaseURL)
	}

	var registry fetch.OnChainRegistry
	if len(cfg.EVMRPCURLs) > 0 {
		r, err := fetch.NewEVMRegistry(cfg.EVMRPCURLs)
		if err != nil {
			log.Printf("warning: on-chain registry unavailable: %v", err)
		} else {
			registry = r
		}
	}

	var imageRepo fetch.ImageRepository
	if cfg.ImageSourceURL != "" {
		imageRepo = fetch.NewDiskImageRepository(cfg.ImageCacheDir, cfg.ImageSourceURL)
	}

	return service.New(service.Config{
		AttestationClient: fetch.NewHTTPAttestationClient(cfg.CloudAPIBaseURL),
		GatewayClient:     fetch.NewHTTPGatewayClient(),
		Registry:          registry,
		CTLogClient:       ctLogClient,
		ITAClient:         itaClient,
		ITAAPIKey:         cfg.ITAAPIKey,
		ToolExec:          fetch.NewLocalToolExec(cfg.QuoteVerifyBin, cfg.QuoteDecodeBin, cfg.MeasureBin, cfg.ToolExecWorkDir),
		ImageRepo:         imageRepo,
		CloudAPIBaseURL:   cfg.CloudAPIBaseURL,
		Logger:            log.New(log.Writer(), "[service] ", log.LstdFlags),
	})
}

func buildMetabaseClient(cfg *config.Config) *appsync.MetabaseClient {
	if cfg.MetabaseURL == "" {
		return nil
	}
	return appsync.NewMetabaseClient(cfg.MetabaseURL, cfg.MetabaseAPIKey)
}

// buildScheduler wires C7's three named cron schedules plus the
// force-refresh trigger's backing callbacks.
func buildScheduler(cfg *config.Config, syncSvc *appsync.Service, q *queue.Queue) (*scheduler.Scheduler, error) {
	return scheduler.New([]scheduler.ScheduleSpec{
		{
			Name:    "cleanup-failed-tasks",
			Pattern: cfg.CleanupCronPattern,
			Job: func(ctx context.Context) error {
				_, err := syncSvc.CleanupFailedTasks(ctx, 24)
				return err
			},
		},
		{
			Name:    "sync-profiles",
			Pattern: cfg.ProfileCronPattern,
			Job: func(ctx context.Context) error {
				_, err := syncSvc.SyncProfiles(ctx)
				return err
			},
		},
		{
			Name:    "sync-tasks",
			Pattern: cfg.TasksCronPattern,
			Job: func(ctx context.Context) error {
				if _, err := syncSvc.SyncApps(ctx); err != nil {
					return err
				}
				apps, err := syncSvc.GetAppsNeedingVerification(ctx)
				if err != nil {
					return err
				}
				for _, app := range apps {
					if _, err := q.AddTask(ctx, app.AppID, false); err != nil {
						log.Printf("sync-tasks: enqueueing %s failed: %v", app.AppID, err)
					}
				}
				return nil
			},
		},
	}, log.New(log.Writer(), "[scheduler] ", log.LstdFlags))
}

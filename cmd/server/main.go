package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/agent-matrix/matrix-hub-sub001/internal/config"
	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/gateway"
	"github.com/agent-matrix/matrix-hub-sub001/internal/handlers"
	"github.com/agent-matrix/matrix-hub-sub001/internal/ingest"
	"github.com/agent-matrix/matrix-hub-sub001/internal/install"
	"github.com/agent-matrix/matrix-hub-sub001/internal/jobs"
	"github.com/agent-matrix/matrix-hub-sub001/internal/logging"
	"github.com/agent-matrix/matrix-hub-sub001/internal/middleware"
	"github.com/agent-matrix/matrix-hub-sub001/internal/search"
	"github.com/agent-matrix/matrix-hub-sub001/internal/services"
	"github.com/agent-matrix/matrix-hub-sub001/internal/validate"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Matrix Hub...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabaseURL)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Optional Redis, for multi-instance ingest coordination
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, running single-instance: %v", err)
			redisService = nil
		}
	}

	metrics := services.InitMetrics(db)

	// Seed catalog remotes on an empty store; afterwards the store owns
	// them via the admin API.
	seedRemotes(db, cfg)
	if cfg.RemotesFile != "" {
		go watchRemotesFile(cfg.RemotesFile, db)
	}

	validator := validate.NewValidator(validate.Policy{
		AllowedLicenses:     cfg.AllowedLicenses,
		RequireMCPArtifacts: cfg.RequireMCPArtifacts,
	})

	// The embedder is optional; without it search degrades to lexical
	// and chunks stay pending until one is configured.
	var embedder search.Embedder
	if ollama := search.NewOllamaEmbedder(cfg.EmbedderURL, cfg.EmbedderModel); ollama != nil {
		embedder = ollama
		log.Printf("🧠 Embedder enabled: %s (%s)", cfg.EmbedderURL, cfg.EmbedderModel)
	} else {
		log.Println("⚠️ No embedder configured, semantic search disabled")
	}

	chunker := search.NewChunker(cfg.ChunkTokens, cfg.ChunkOverlap)
	vector := search.NewVectorBackend(db, embedder)
	engine := search.NewEngine(db, vector, cfg.SearchWeights, cfg.RAGTopChunks, cfg.SearchCacheTTL)
	ingestor := ingest.NewIngestor(db, validator, chunker, embedder, cfg.IngestWorkers, cfg.IngestRateLimit)

	// MCP gateway is optional; a nil registrar turns registration steps
	// into skips and disables the sweep.
	gatewayClient := gateway.NewClient(cfg.GatewayURL, cfg.JWTSecretKey, cfg.GatewayToken, cfg.GatewayTimeout)
	registrar := gateway.NewRegistrar(gatewayClient, db, metrics)
	if registrar != nil {
		log.Printf("🔌 MCP gateway registrar enabled: %s", cfg.GatewayURL)
	}

	var installRegistrar install.Registrar
	if registrar != nil {
		installRegistrar = registrar
	}
	installer := install.NewInstaller(db, installRegistrar)

	// Scheduled ingest
	ingestScheduler, err := services.NewIngestScheduler(
		ingestor, redisService, metrics,
		cfg.IngestCron, time.Duration(cfg.IngestInterval)*time.Minute,
	)
	if err != nil {
		log.Fatalf("❌ Failed to create ingest scheduler: %v", err)
	}
	ingestScheduler.Start()

	// Background maintenance jobs
	jobScheduler := jobs.NewJobScheduler()
	if embedder != nil {
		jobScheduler.Register("embed-retry", jobs.NewEmbedRetry(db, embedder, 10*time.Minute))
	}
	if registrar != nil {
		jobScheduler.Register("registration-sweep", jobs.NewRegistrationSweep(registrar, 5*time.Minute))
	}
	jobScheduler.Register("chunk-gc", jobs.NewChunkGC(db, time.Hour))
	if err := jobScheduler.Start(); err != nil {
		log.Printf("⚠️ Failed to start job scheduler: %v", err)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Matrix Hub v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second, // installs can run pip/docker/git
		IdleTimeout:  120 * time.Second,
		BodyLimit:    8 * 1024 * 1024, // inline manifests stay small
		UnescapePath: true,            // entity uids carry ':' and '@'
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("matrixhub")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Search=%d/min, Install=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.SearchMax,
		rateLimitConfig.InstallMax,
	)

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Admin-Token",
	}))

	app.Use("/catalog", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(db)
	searchHandler := handlers.NewSearchHandler(engine, metrics)
	entityHandler := handlers.NewEntityHandler(db)
	installHandler := handlers.NewInstallHandler(installer, metrics)
	adminHandler := handlers.NewAdminHandler(db, ingestor, registrar)

	// Public routes
	app.Get("/health", healthHandler.Handle)

	catalog := app.Group("/catalog")
	catalog.Get("/search", middleware.SearchRateLimiter(rateLimitConfig), searchHandler.Get)
	catalog.Post("/search", middleware.SearchRateLimiter(rateLimitConfig), searchHandler.Post)
	catalog.Get("/entities/:uid", entityHandler.Get)
	catalog.Post("/install", middleware.InstallRateLimiter(rateLimitConfig), installHandler.Install)
	catalog.Post("/install/plan", installHandler.Plan)

	// Admin routes share the /catalog prefix but require admin credentials
	adminAuth := middleware.AdminMiddleware(cfg)
	catalog.Get("/remotes", adminAuth, adminHandler.ListRemotes)
	catalog.Post("/remotes", adminAuth, adminHandler.AddRemote)
	catalog.Delete("/remotes", adminAuth, adminHandler.RemoveRemote)
	catalog.Post("/ingest", adminAuth, adminHandler.TriggerIngest)
	catalog.Get("/registrations/pending", adminAuth, adminHandler.PendingRegistrations)
	catalog.Post("/registrations/sync", adminAuth, adminHandler.SyncRegistrations)
	catalog.Delete("/entities/:uid", adminAuth, adminHandler.DeleteEntity)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if err := ingestScheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping ingest scheduler: %v", err)
		}

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// seedRemotes populates the remotes table from configuration when it is
// empty. MATRIX_REMOTES entries and the seed file are merged.
func seedRemotes(db *database.DB, cfg *config.Config) {
	n, err := db.CountRemotes()
	if err != nil {
		log.Printf("⚠️ Failed to count remotes: %v", err)
		return
	}
	if n > 0 {
		log.Printf("📦 %d catalog remotes configured", n)
		return
	}

	added := 0
	for _, url := range cfg.Remotes {
		if err := db.AddRemote(url, ""); err != nil {
			log.Printf("⚠️ Failed to seed remote %s: %v", url, err)
			continue
		}
		added++
	}
	if cfg.RemotesFile != "" {
		seed, err := config.LoadRemotes(cfg.RemotesFile)
		if err != nil {
			log.Printf("⚠️ Failed to load remotes file: %v", err)
		} else {
			for _, r := range seed.Remotes {
				if err := db.AddRemote(r.URL, r.Name); err != nil {
					log.Printf("⚠️ Failed to seed remote %s: %v", r.URL, err)
					continue
				}
				added++
			}
		}
	}
	log.Printf("✅ Seeded %d catalog remotes", added)
}

// watchRemotesFile watches the remotes seed file and adds new entries on
// change. Removal stays an explicit admin operation.
func watchRemotesFile(filePath string, db *database.DB) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than
	// watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce timer to avoid multiple syncs for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, merging remotes...", filePath)
					seed, err := config.LoadRemotes(filePath)
					if err != nil {
						log.Printf("❌ Failed to reload remotes file: %v", err)
						return
					}
					for _, r := range seed.Remotes {
						if _, err := db.GetRemote(r.URL); err == nil {
							continue
						}
						if err := db.AddRemote(r.URL, r.Name); err != nil {
							log.Printf("⚠️ Failed to add remote %s: %v", r.URL, err)
						} else {
							log.Printf("✅ Added remote from file: %s", r.URL)
						}
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}

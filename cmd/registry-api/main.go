package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carbon-ledger/registry-backend/internal/audit"
	"carbon-ledger/registry-backend/internal/auth"
	"carbon-ledger/registry-backend/internal/certificates"
	"carbon-ledger/registry-backend/internal/config"
	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/database"
	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
	"carbon-ledger/registry-backend/internal/pool"
	"carbon-ledger/registry-backend/internal/reports"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load environment from .env if present
	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Logging.Level == "production" {
		logger, _ = zap.NewProduction()
	}

	admin := ledger.AccountID(cfg.Registry.AdminAccount)

	// Ledger collaborators
	assets := ledger.NewMemoryAssetLedger()
	nfts := ledger.NewMemoryNFTHandler()
	kyc := ledger.NewMemoryKYCProvider()

	// The engine accounts and the admin must clear KYC so mints, pool
	// forwarded retirements and maintenance calls pass the membership check.
	kyc.SetLevel(admin, ledger.KYCLevel4)
	kyc.SetLevel(credits.ModuleAccount, ledger.KYCLevel4)
	kyc.SetLevel(credits.EscrowAccount, ledger.KYCLevel4)
	kyc.SetLevel(pool.ModuleAccount, ledger.KYCLevel4)
	for _, account := range strings.Split(os.Getenv("KYC_ACCOUNTS"), ",") {
		if account = strings.TrimSpace(account); account != "" {
			kyc.SetLevel(ledger.AccountID(account), ledger.KYCLevel1)
		}
	}

	// Persistence and event sink
	var (
		creditsStore credits.Store
		poolStore    pool.Store
		sink         events.Sink       = events.NewMemorySink()
		txRunner     database.TxRunner = database.Passthrough{}
	)
	rollbackTargets := []ledger.Snapshotter{assets, nfts}

	switch cfg.Registry.Storage {
	case "postgres":
		gdb, err := gorm.Open(gormpg.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{TranslateError: true})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		txRunner = database.NewGormTxRunner(gdb)
		creditsStore, err = credits.NewPostgresStore(gdb)
		if err != nil {
			logger.Fatal("Failed to prepare credits storage", zap.Error(err))
		}
		poolStore, err = pool.NewPostgresStore(gdb)
		if err != nil {
			logger.Fatal("Failed to prepare pool storage", zap.Error(err))
		}

		journalDB, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
		if err != nil {
			logger.Fatal("Failed to connect event journal", zap.Error(err))
		}
		defer journalDB.Close()
		journal := events.NewJournalSink(journalDB, logger)
		if err := journal.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("Failed to prepare event journal", zap.Error(err))
		}
		sink = journal
	default:
		memCredits := credits.NewMemoryStore()
		memPools := pool.NewMemoryStore()
		creditsStore = memCredits
		poolStore = memPools
		rollbackTargets = append(rollbackTargets, memCredits, memPools)
	}

	// Engines
	creditsService := credits.NewService(creditsStore, txRunner, assets, nfts, kyc, sink, credits.DefaultLimits(), admin, logger)
	poolService := pool.NewService(poolStore, txRunner, assets, creditsService, sink, pool.DefaultLimits(), admin, logger, rollbackTargets...)

	// Supporting services
	issuer := auth.NewIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	certGenerator := certificates.NewGenerator(cfg.Registry.CertificateIssuer)
	inventory := reports.NewInventoryExporter(creditsService)
	auditor := audit.NewAuditor(creditsService, logger)

	scheduler := cron.New()
	if _, err := auditor.Schedule(scheduler, cfg.Registry.AuditSchedule); err != nil {
		logger.Fatal("Failed to schedule audit sweep", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	auth.NewHandler(issuer).RegisterRoutes(router)

	api := router.Group("/api/v1")
	api.Use(issuer.Middleware())
	{
		credits.NewHandler(creditsService).RegisterRoutes(api)
		pool.NewHandler(poolService).RegisterRoutes(api)
		certificates.NewHandler(creditsService, certGenerator).RegisterRoutes(api)
		reports.NewHandler(inventory).RegisterRoutes(api)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Registry.Storage))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

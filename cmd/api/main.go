package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/analysis"
	"github.com/learnlens/backend/internal/api/handlers"
	"github.com/learnlens/backend/internal/cache/redis"
	"github.com/learnlens/backend/internal/embedding"
	"github.com/learnlens/backend/internal/graph/neo4j"
	"github.com/learnlens/backend/internal/guardrail"
	"github.com/learnlens/backend/internal/ingestion"
	"github.com/learnlens/backend/internal/intent"
	"github.com/learnlens/backend/internal/llm"
	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/internal/middleware/ratelimit"
	"github.com/learnlens/backend/internal/middleware/security"
	"github.com/learnlens/backend/internal/middleware/validation"
	"github.com/learnlens/backend/internal/report"
	"github.com/learnlens/backend/internal/retrieval"
	"github.com/learnlens/backend/internal/storage/sqlite"
	"github.com/learnlens/backend/internal/vector/milvus"
	"github.com/learnlens/backend/pkg/config"
	appLogger "github.com/learnlens/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting LearnLens analysis API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	// Redis is an optimization, not a dependency. Run without it.
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var llmClient *llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			cfg.LLM.EmbeddingModel,
			cfg.LLM.Temperature,
			cfg.LLM.MaxTokens,
		)
	} else {
		appLogger.Warn("No LLM API key configured, running with degraded analysis")
	}

	var embedder embedding.Embedder
	if llmClient != nil {
		if redisClient != nil {
			embedder = embedding.NewModelEmbedder(llmClient, redisClient, cfg.LLM.EmbeddingDim)
		} else {
			embedder = embedding.NewModelEmbedder(llmClient, nil, cfg.LLM.EmbeddingDim)
		}
	} else {
		embedder = embedding.NewFallbackEmbedder(cfg.LLM.EmbeddingDim)
	}

	var (
		classifier *intent.Classifier
		analyst    *analysis.Analyst
		ingester   *ingestion.Ingester
	)
	if llmClient != nil {
		classifier = intent.NewClassifier(llmClient)
		analyst = analysis.NewAnalyst(llmClient)
		ingester = ingestion.NewIngester(sqliteClient, neo4jClient, milvusClient, llmClient, embedder)
	} else {
		classifier = intent.NewClassifier(nil)
		analyst = analysis.NewAnalyst(nil)
		ingester = ingestion.NewIngester(sqliteClient, neo4jClient, milvusClient, nil, embedder)
	}

	retriever := retrieval.NewRetriever(neo4jClient, milvusClient, embedder, retrieval.Config{
		MinAttemptsPerSubject: cfg.Pipeline.MinAttemptsPerSubject,
		EvidenceThreshold:     cfg.Pipeline.EvidenceThreshold,
		VectorTopK:            cfg.Pipeline.VectorTopK,
	})

	pipeline := report.NewService(
		sqliteClient,
		classifier,
		guardrail.NewFilter(),
		ingester,
		retriever,
		analyst,
		report.Config{
			MaxRetrievalRetries: cfg.Pipeline.MaxRetrievalRetries,
			CooldownHours:       cfg.Pipeline.CooldownHours,
			AdminBypassKey:      cfg.Pipeline.AdminBypassKey,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key, X-Student-UID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	var reportHandler *handlers.ReportHandler
	if redisClient != nil {
		reportHandler = handlers.NewReportHandler(pipeline, sqliteClient, redisClient)
	} else {
		reportHandler = handlers.NewReportHandler(pipeline, sqliteClient, nil)
	}
	attemptsHandler := handlers.NewAttemptsHandler(sqliteClient, redisClient)
	wsHandler := handlers.NewWebSocketHandler(pipeline)

	api := app.Group("/api/v1")

	api.Post("/reports", reportHandler.HandleReport)
	api.Get("/reports/history", reportHandler.GetReportHistory)
	api.Post("/attempts", attemptsHandler.HandleInsertAttempt)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/analyzer"
	"github.com/arcadian-io/docchat/internal/blob"
	"github.com/arcadian-io/docchat/internal/history"
	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/internal/ingest"
	"github.com/arcadian-io/docchat/internal/orchestrator"
	"github.com/arcadian-io/docchat/internal/safety"
	"github.com/arcadian-io/docchat/internal/search"
	"github.com/arcadian-io/docchat/internal/tools"
	"github.com/arcadian-io/docchat/provider"
)

// configInvalidationChannel carries the cross-replica nudge that drops cached
// active configs after an admin save.
const configInvalidationChannel = "docchat:config:invalidate"

// newEcho builds the echo instance with the shared middleware stack: panic
// recovery, a unified JSON error handler and permissive CORS.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))
	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Run wires every component from cfg and serves until the listener fails.
func Run(cfg *config.Config) error {
	e := newEcho()
	ctx := context.Background()

	dsn, err := cfg.Index.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[SERVER] migrate: %v", err)
	}

	blobStore, err := blob.NewStore(cfg.Blob, nil)
	if err != nil {
		return err
	}
	active := config.NewActiveLoader(blobStore, nil)

	idx, err := index.Open(cfg.Index, nil)
	if err != nil {
		return err
	}
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	var gate *safety.Gate
	if cfg.Safety.Endpoint != "" {
		gate = safety.NewGate(safety.NewClient(cfg.Safety))
	}
	var an *analyzer.Client
	if cfg.Analyzer.Endpoint != "" {
		an = analyzer.New(cfg.Analyzer)
	}

	searcher := search.NewHandler(llm, idx, cfg.Search, nil)
	orch := orchestrator.New(orchestrator.Deps{
		Provider:   llm,
		Search:     searcher,
		Answer:     tools.NewAnswerTool(llm, active, cfg.LLM.MaxTokens, nil),
		Validator:  tools.NewValidator(llm, active, nil),
		TextProc:   tools.NewTextProcessor(llm),
		Gate:       gate,
		Active:     active,
		Parser:     orchestrator.NewParser(cfg.LLM.CompletionModel, blobStore),
		PromptFlow: cfg.PromptFlow,
	})

	if cfg.Redis.Host == "" || cfg.Redis.Port == "" {
		return fmt.Errorf("redis not configured (redis.host/port)")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Pass, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Redis.Addr(), err)
	}

	embedder := ingest.NewEmbedder(llm, idx, cfg.Ingestion.MaxBatchSize, nil)
	coordinator := ingest.NewCoordinator(blobStore, active, embedder, an, idx, nil)
	publisher := ingest.NewPublisher(rdb, cfg.Ingestion.Stream)
	consumer, err := ingest.NewConsumer(ctx, rdb, cfg.Ingestion.Stream, cfg.Ingestion.Group, coordinator, idx, nil)
	if err != nil {
		return err
	}
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Printf("[SERVER] ingest consumer stopped: %v", err)
		}
	}()
	sched := ingest.NewScheduler(blobStore, publisher, rdb, cfg.Ingestion.RescanCron, nil)
	sched.Start()
	defer sched.Stop()

	secret := cfg.General.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}

	hist := history.New(idx.DB)

	api := e.Group("/api")
	ch := &ChatHandler{Orch: orch, History: hist}
	ch.Register(api)

	auth := &AuthHandler{Admin: cfg.Admin, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	go func() {
		sub := rdb.Subscribe(ctx, configInvalidationChannel)
		defer sub.Close()
		for range sub.Channel() {
			active.Invalidate()
		}
	}()

	admin := api.Group("/admin")
	admin.Use(withAdminAuth(auth.Secret))
	ah := &AdminHandler{
		Blob:      blobStore,
		Index:     idx,
		Publisher: publisher,
		Active:    active,
		Notify: func(ctx context.Context) {
			if err := rdb.Publish(ctx, configInvalidationChannel, "invalidate").Err(); err != nil {
				log.Printf("[SERVER] config invalidation publish: %v", err)
			}
		},
	}
	ah.Register(admin)

	addr := cfg.General.Listen
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	return e.Start(addr)
}

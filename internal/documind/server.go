package documind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"
	"github.com/kart-io/version"
	"github.com/panjf2000/ants/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/documind-io/documind/internal/documind/biz"
	"github.com/documind-io/documind/internal/documind/handler"
	"github.com/documind-io/documind/internal/documind/metrics"
	"github.com/documind-io/documind/internal/documind/router"
	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/pkg/component/milvus"
	"github.com/documind-io/documind/pkg/component/postgres"
	"github.com/documind-io/documind/pkg/llm/factory"
)

// Server 组装并运行 QA 服务。
type Server struct {
	httpServer *http.Server
	opts       *Options
	closers    []func()
}

// NewServer 按配置初始化全部组件并返回可运行的服务实例。
func NewServer(opts *Options) (*Server, error) {
	// 1. 初始化日志
	if err := opts.Log.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting DocuMind service...",
		"service.name", appName,
		"service.version", version.Get().GitVersion,
	)

	s := &Server{opts: opts}

	// 2. 初始化 Postgres 与关系存储
	pgClient, err := postgres.New(opts.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	s.closers = append(s.closers, func() { _ = pgClient.Close() })

	if err := store.AutoMigrate(pgClient.DB()); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	storeFactory, err := store.NewSQLFactory(pgClient.DB())
	if err != nil {
		s.close()
		return nil, err
	}
	logger.Info("Relational store initialized")

	// 3. 初始化 Milvus 与向量存储
	milvusClient, err := milvus.New(opts.Milvus.Client)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	s.closers = append(s.closers, func() { _ = milvusClient.Close(context.Background()) })

	vectorStore := store.NewMilvusStore(milvusClient, opts.Milvus.Collection)
	if err := vectorStore.EnsureCollection(context.Background(), opts.Milvus.EmbeddingDim); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to ensure vector collection: %w", err)
	}
	logger.Infow("Vector store initialized",
		"collection", opts.Milvus.Collection,
		"dimension", opts.Milvus.EmbeddingDim,
	)

	// 4. 初始化 Redis 缓存，连接失败时禁用缓存继续启动
	var answerCache *biz.AnswerCache
	if opts.Cache.Enabled {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:         fmt.Sprintf("%s:%d", opts.Cache.Redis.Host, opts.Cache.Redis.Port),
			Password:     opts.Cache.Redis.Password,
			DB:           opts.Cache.Redis.Database,
			MaxRetries:   opts.Cache.Redis.MaxRetries,
			PoolSize:     opts.Cache.Redis.PoolSize,
			MinIdleConns: opts.Cache.Redis.MinIdleConns,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warnw("failed to connect to redis, cache disabled", "error", err.Error())
			_ = redisClient.Close()
		} else {
			answerCache = biz.NewAnswerCache(redisClient, &biz.AnswerCacheConfig{
				Enabled:   true,
				TTL:       opts.Cache.TTL,
				KeyPrefix: opts.Cache.KeyPrefix,
			})
			s.closers = append(s.closers, func() { _ = redisClient.Close() })
			logger.Infow("Answer cache initialized", "ttl", opts.Cache.TTL)
		}
	} else {
		logger.Info("Answer cache is disabled")
	}

	// 5. 初始化 LLM 供应商
	embedProvider, err := factory.NewEmbeddingProvider(opts.Embedding.FactoryConfig())
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", opts.Embedding.Provider,
		"model", opts.Embedding.Model,
	)

	chatProvider, err := factory.NewChatProvider(opts.Chat.FactoryConfig())
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", opts.Chat.Provider,
		"model", opts.Chat.Model,
	)

	// 6. 初始化 Biz 层
	pool, err := ants.NewPool(opts.QA.IngestWorkers)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	s.closers = append(s.closers, pool.Release)

	ingestor := biz.NewIngestor(
		storeFactory,
		vectorStore,
		embedProvider,
		pool,
		&biz.IngestorConfig{
			ChunkSize:      opts.QA.ChunkSize,
			Overlap:        opts.QA.ChunkOverlap,
			EmbedBatchSize: opts.QA.EmbedBatchSize,
			Workers:        opts.QA.IngestWorkers,
		},
	)

	retriever := biz.NewHybridRetriever(
		vectorStore,
		storeFactory.Keyword(),
		storeFactory.Chunks(),
		embedProvider,
		&biz.RetrieverConfig{SimilarityFloor: opts.QA.SimilarityFloor},
	)

	rerankers, err := biz.NewRerankers(&biz.RerankerConfig{
		Stages: opts.QA.RerankStages,
		Blend:  opts.QA.RerankBlend,
	}, chatProvider)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to build rerank chain: %w", err)
	}

	generator := biz.NewGenerator(chatProvider, &biz.GeneratorConfig{
		SystemPrompt: opts.QA.SystemPrompt,
		MinRelevance: opts.QA.MinRelevance,
	})
	extractor := biz.NewCitationExtractor(biz.CitationConfig{}, opts.QA.LowConfidenceThreshold)

	pipeline := biz.NewPipeline(retriever, rerankers, generator, extractor, storeFactory.Answers(), &biz.PipelineConfig{
		ContextSize:            opts.QA.ContextSize,
		LowConfidenceThreshold: opts.QA.LowConfidenceThreshold,
	})

	qaService := biz.NewQAService(
		pipeline, retriever, ingestor, answerCache,
		storeFactory, vectorStore, embedProvider, chatProvider,
		metrics.New(),
	)
	logger.Infow("QA service initialized",
		"cache.enabled", answerCache != nil,
		"rerank.stages", opts.QA.RerankStages,
		"context.size", opts.QA.ContextSize,
	)

	// 7. 初始化 HTTP 层
	qaHandler := handler.NewQAHandler(qaService, opts.Server.AskTimeout)
	engine := router.New(opts.Server.Mode, qaHandler)

	s.httpServer = &http.Server{
		Addr:         opts.Server.Addr,
		Handler:      engine,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
	}

	logger.Info("DocuMind service is ready")
	return s, nil
}

// Run 启动 HTTP 服务器并等待终止信号，收到信号后优雅停机。
func (s *Server) Run() error {
	defer s.close()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Infow("Shutting down...", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}

// close 按初始化的逆序释放资源。
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

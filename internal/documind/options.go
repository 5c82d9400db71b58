// Package documind provides the DocuMind QA service application.
package documind

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/documind-io/documind/internal/documind/biz"
	"github.com/documind-io/documind/pkg/component/milvus"
	"github.com/documind-io/documind/pkg/component/postgres"
	"github.com/documind-io/documind/pkg/llm/factory"
	logopts "github.com/documind-io/documind/pkg/options/logger"
)

// Options contains all DocuMind service options.
type Options struct {
	// Server contains HTTP server configuration.
	Server *ServerOptions `json:"server" mapstructure:"server"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Postgres contains relational store configuration.
	Postgres *postgres.Options `json:"postgres" mapstructure:"postgres"`

	// Milvus contains vector store configuration.
	Milvus *MilvusOptions `json:"milvus" mapstructure:"milvus"`

	// Cache contains answer cache configuration.
	Cache *CacheOptions `json:"cache" mapstructure:"cache"`

	// Embedding contains embedding provider configuration.
	Embedding *LLMOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *LLMOptions `json:"chat" mapstructure:"chat"`

	// QA contains question-answering pipeline configuration.
	QA *QAOptions `json:"qa" mapstructure:"qa"`
}

// ServerOptions HTTP 服务器配置。
type ServerOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// Mode gin 运行模式（debug, release, test）。
	Mode string `json:"mode" mapstructure:"mode"`

	// ReadTimeout / WriteTimeout 连接读写超时。
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// AskTimeout 单次问答请求的处理超时。
	AskTimeout time.Duration `json:"ask-timeout" mapstructure:"ask-timeout"`

	// ShutdownTimeout 优雅停机等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions 创建默认服务器配置。
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Addr:            ":8082",
		Mode:            "release",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		AskTimeout:      60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// MilvusOptions 向量库配置：连接参数加集合参数。
type MilvusOptions struct {
	// Client Milvus 连接配置。
	Client *milvus.Options `json:"client" mapstructure:"client"`

	// Collection 集合名称。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 嵌入向量维度，必须与嵌入模型一致。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`
}

// NewMilvusOptions 创建默认向量库配置。
func NewMilvusOptions() *MilvusOptions {
	return &MilvusOptions{
		Client:       milvus.NewOptions(),
		Collection:   "documind_chunks",
		EmbeddingDim: 768, // nomic-embed-text dimension
	}
}

// CacheOptions 答案缓存配置。
type CacheOptions struct {
	// Enabled 是否启用缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL 缓存过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Redis Redis 连接配置。
	Redis *RedisOptions `json:"redis" mapstructure:"redis"`
}

// RedisOptions Redis 配置。
type RedisOptions struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	Password     string `json:"-" mapstructure:"password"`
	Database     int    `json:"database" mapstructure:"database"`
	MaxRetries   int    `json:"max-retries" mapstructure:"max-retries"`
	PoolSize     int    `json:"pool-size" mapstructure:"pool-size"`
	MinIdleConns int    `json:"min-idle-conns" mapstructure:"min-idle-conns"`
}

// NewCacheOptions 创建默认缓存配置。
func NewCacheOptions() *CacheOptions {
	return &CacheOptions{
		Enabled:   true,
		TTL:       1 * time.Hour,
		KeyPrefix: "documind:answer:",
		Redis: &RedisOptions{
			Host:         "localhost",
			Port:         6379,
			Database:     0,
			MaxRetries:   3,
			PoolSize:     10,
			MinIdleConns: 5,
		},
	}
}

// LLMOptions 定义 LLM 供应商配置。
type LLMOptions struct {
	// Provider 供应商名称（ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（openai 需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Resilient 是否包装重试与熔断。
	Resilient bool `json:"resilient" mapstructure:"resilient"`
}

// NewLLMOptions 创建默认 LLM 供应商配置。
func NewLLMOptions() *LLMOptions {
	return &LLMOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		Resilient:  true,
	}
}

// FactoryConfig 转换为供应商工厂配置。
func (o *LLMOptions) FactoryConfig() *factory.Config {
	return &factory.Config{
		Provider:   o.Provider,
		BaseURL:    o.BaseURL,
		APIKey:     o.APIKey,
		EmbedModel: o.Model,
		ChatModel:  o.Model,
		Timeout:    o.Timeout,
		MaxRetries: o.MaxRetries,
		Resilient:  o.Resilient,
	}
}

// QAOptions 问答流水线配置。
type QAOptions struct {
	// ChunkSize / ChunkOverlap 分块参数（rune 数）。
	ChunkSize    int `json:"chunk-size" mapstructure:"chunk-size"`
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// EmbedBatchSize 单次嵌入调用的文本条数。
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// IngestWorkers 嵌入批次并发度。
	IngestWorkers int `json:"ingest-workers" mapstructure:"ingest-workers"`

	// TopK 融合后保留的候选数。
	TopK int `json:"top-k" mapstructure:"top-k"`

	// SimilarityFloor 向量相似度下限。
	SimilarityFloor float64 `json:"similarity-floor" mapstructure:"similarity-floor"`

	// RerankStages 重排序阶段链（heuristic, llm）。
	RerankStages []string `json:"rerank-stages" mapstructure:"rerank-stages"`

	// RerankBlend 重排序得分混合权重，(0,1]。
	RerankBlend float64 `json:"rerank-blend" mapstructure:"rerank-blend"`

	// MinRelevance 进入生成的最低候选得分，全部低于它时拒答。
	MinRelevance float64 `json:"min-relevance" mapstructure:"min-relevance"`

	// ContextSize 进入生成的上下文块数。
	ContextSize int `json:"context-size" mapstructure:"context-size"`

	// LowConfidenceThreshold 低置信度标记阈值。
	LowConfidenceThreshold float64 `json:"low-confidence-threshold" mapstructure:"low-confidence-threshold"`

	// SystemPrompt 生成提示词模板，留空使用内置模板。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// NewQAOptions 创建默认流水线配置。
func NewQAOptions() *QAOptions {
	return &QAOptions{
		ChunkSize:              biz.DefaultChunkSize,
		ChunkOverlap:           biz.DefaultChunkOverlap,
		EmbedBatchSize:         biz.DefaultEmbedBatchSize,
		IngestWorkers:          biz.DefaultIngestWorkers,
		TopK:                   biz.DefaultContextSize,
		SimilarityFloor:        biz.DefaultSimilarityFloor,
		RerankStages:           []string{biz.RerankStageHeuristic},
		RerankBlend:            biz.DefaultRerankBlend,
		ContextSize:            biz.DefaultContextSize,
		LowConfidenceThreshold: biz.DefaultLowConfidence,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	embedding := NewLLMOptions()
	embedding.Model = "nomic-embed-text"

	chat := NewLLMOptions()
	chat.Model = "qwen2.5:7b"

	return &Options{
		Server:    NewServerOptions(),
		Log:       logopts.NewOptions(),
		Postgres:  postgres.NewOptions(),
		Milvus:    NewMilvusOptions(),
		Cache:     NewCacheOptions(),
		Embedding: embedding,
		Chat:      chat,
		QA:        NewQAOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Postgres.AddFlags(fs, "postgres.")
	o.Milvus.Client.AddFlags(fs, "milvus.")
	o.addServerFlags(fs)
	o.addMilvusFlags(fs)
	o.addCacheFlags(fs)
	o.addLLMFlags(fs, o.Embedding, "embedding")
	o.addLLMFlags(fs, o.Chat, "chat")
	o.addQAFlags(fs)
}

func (o *Options) addServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "HTTP server listen address")
	fs.StringVar(&o.Server.Mode, "server.mode", o.Server.Mode, "HTTP server mode (debug, release, test)")
	fs.DurationVar(&o.Server.ReadTimeout, "server.read-timeout", o.Server.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&o.Server.WriteTimeout, "server.write-timeout", o.Server.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&o.Server.AskTimeout, "server.ask-timeout", o.Server.AskTimeout, "Per-request ask processing timeout")
	fs.DurationVar(&o.Server.ShutdownTimeout, "server.shutdown-timeout", o.Server.ShutdownTimeout, "Graceful shutdown timeout")
}

func (o *Options) addMilvusFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Milvus.Collection, "milvus.collection", o.Milvus.Collection, "Milvus collection name")
	fs.IntVar(&o.Milvus.EmbeddingDim, "milvus.embedding-dim", o.Milvus.EmbeddingDim, "Embedding vector dimension")
}

func (o *Options) addCacheFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Cache.Enabled, "cache.enabled", o.Cache.Enabled, "Enable answer cache")
	fs.DurationVar(&o.Cache.TTL, "cache.ttl", o.Cache.TTL, "Cache TTL duration")
	fs.StringVar(&o.Cache.KeyPrefix, "cache.key-prefix", o.Cache.KeyPrefix, "Cache key prefix")
	fs.StringVar(&o.Cache.Redis.Host, "cache.redis.host", o.Cache.Redis.Host, "Redis host")
	fs.IntVar(&o.Cache.Redis.Port, "cache.redis.port", o.Cache.Redis.Port, "Redis port")
	fs.StringVar(&o.Cache.Redis.Password, "cache.redis.password", o.Cache.Redis.Password, "Redis password")
	fs.IntVar(&o.Cache.Redis.Database, "cache.redis.database", o.Cache.Redis.Database, "Redis database number")
	fs.IntVar(&o.Cache.Redis.MaxRetries, "cache.redis.max-retries", o.Cache.Redis.MaxRetries, "Redis max retries")
	fs.IntVar(&o.Cache.Redis.PoolSize, "cache.redis.pool-size", o.Cache.Redis.PoolSize, "Redis connection pool size")
	fs.IntVar(&o.Cache.Redis.MinIdleConns, "cache.redis.min-idle-conns", o.Cache.Redis.MinIdleConns, "Redis minimum idle connections")
}

func (o *Options) addLLMFlags(fs *pflag.FlagSet, opts *LLMOptions, prefix string) {
	fs.StringVar(&opts.Provider, prefix+".provider", opts.Provider, "LLM provider (ollama, openai)")
	fs.StringVar(&opts.BaseURL, prefix+".base-url", opts.BaseURL, "LLM API base URL")
	fs.StringVar(&opts.APIKey, prefix+".api-key", opts.APIKey, "LLM API key (for openai)")
	fs.StringVar(&opts.Model, prefix+".model", opts.Model, "Model name")
	fs.DurationVar(&opts.Timeout, prefix+".timeout", opts.Timeout, "Request timeout")
	fs.IntVar(&opts.MaxRetries, prefix+".max-retries", opts.MaxRetries, "Max retries")
	fs.BoolVar(&opts.Resilient, prefix+".resilient", opts.Resilient, "Wrap provider with retry and circuit breaker")
}

func (o *Options) addQAFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.QA.ChunkSize, "qa.chunk-size", o.QA.ChunkSize, "Chunk size in runes")
	fs.IntVar(&o.QA.ChunkOverlap, "qa.chunk-overlap", o.QA.ChunkOverlap, "Chunk overlap in runes")
	fs.IntVar(&o.QA.EmbedBatchSize, "qa.embed-batch-size", o.QA.EmbedBatchSize, "Texts per embedding call")
	fs.IntVar(&o.QA.IngestWorkers, "qa.ingest-workers", o.QA.IngestWorkers, "Concurrent embedding batches")
	fs.IntVar(&o.QA.TopK, "qa.top-k", o.QA.TopK, "Candidates kept after fusion")
	fs.Float64Var(&o.QA.SimilarityFloor, "qa.similarity-floor", o.QA.SimilarityFloor, "Minimum vector similarity")
	fs.StringSliceVar(&o.QA.RerankStages, "qa.rerank-stages", o.QA.RerankStages, "Rerank stage chain (heuristic, llm)")
	fs.Float64Var(&o.QA.RerankBlend, "qa.rerank-blend", o.QA.RerankBlend, "Rerank score blend weight")
	fs.Float64Var(&o.QA.MinRelevance, "qa.min-relevance", o.QA.MinRelevance, "Minimum candidate score for generation")
	fs.IntVar(&o.QA.ContextSize, "qa.context-size", o.QA.ContextSize, "Context chunks passed to generation")
	fs.Float64Var(&o.QA.LowConfidenceThreshold, "qa.low-confidence-threshold", o.QA.LowConfidenceThreshold, "Low confidence flag threshold")
	fs.StringVar(&o.QA.SystemPrompt, "qa.system-prompt", o.QA.SystemPrompt, "Generation prompt template")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.Postgres.Validate(); err != nil {
		return err
	}
	if err := o.Milvus.Client.Validate(); err != nil {
		return err
	}
	if o.Milvus.Collection == "" {
		return fmt.Errorf("milvus.collection is required")
	}
	if o.Milvus.EmbeddingDim <= 0 {
		return fmt.Errorf("milvus.embedding-dim must be positive")
	}
	if o.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := o.validateLLM(o.Embedding, "embedding"); err != nil {
		return err
	}
	if err := o.validateLLM(o.Chat, "chat"); err != nil {
		return err
	}
	if o.QA.ChunkSize <= 0 {
		return fmt.Errorf("qa.chunk-size must be positive")
	}
	if o.QA.ChunkOverlap < 0 || o.QA.ChunkOverlap >= o.QA.ChunkSize {
		return fmt.Errorf("qa.chunk-overlap must be in [0, chunk-size)")
	}
	if o.QA.TopK <= 0 {
		return fmt.Errorf("qa.top-k must be positive")
	}
	for _, stage := range o.QA.RerankStages {
		if stage != biz.RerankStageHeuristic && stage != biz.RerankStageLLM {
			return fmt.Errorf("unknown rerank stage: %s", stage)
		}
	}
	return nil
}

func (o *Options) validateLLM(opts *LLMOptions, prefix string) error {
	if opts.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	if opts.Provider == "openai" && opts.APIKey == "" {
		return fmt.Errorf("%s.api-key is required for openai provider", prefix)
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	if err := o.Log.Complete(); err != nil {
		return err
	}
	return o.Postgres.Complete()
}

package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/documind-io/documind/internal/documind/metrics"
	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/pkg/llm"
)

// Service 定义问答服务接口。
type Service interface {
	// Ask 执行一次问答流水线。
	Ask(ctx context.Context, req *AskRequest) (*model.AskResult, error)
	// SearchChunks 直接检索，不经过生成。
	SearchChunks(ctx context.Context, tenantID, query string, limit int, scoreThreshold float64) (*model.SearchChunksResult, error)
	// IngestDocument 摄取一篇文档。
	IngestDocument(ctx context.Context, tenantID, documentID, text string, opts IngestOptions) (*model.IngestResult, error)
	// GetAnswer 取回已持久化的答案。
	GetAnswer(ctx context.Context, tenantID, answerID string) (*model.AskResult, error)
	// GetStats 获取知识库统计信息。
	GetStats(ctx context.Context, tenantID string) (map[string]any, error)
}

// QAService 组合摄取、检索、生成与评分组件提供完整的问答服务。
type QAService struct {
	pipeline      *Pipeline
	retriever     *HybridRetriever
	ingestor      *Ingestor
	cache         *AnswerCache
	factory       store.Factory
	vectors       store.VectorStore
	embedProvider llm.EmbeddingProvider
	chatProvider  llm.ChatProvider
	metrics       *metrics.Metrics
}

// NewQAService 创建问答服务实例。
func NewQAService(
	pipeline *Pipeline,
	retriever *HybridRetriever,
	ingestor *Ingestor,
	cache *AnswerCache,
	factory store.Factory,
	vectors store.VectorStore,
	embedProvider llm.EmbeddingProvider,
	chatProvider llm.ChatProvider,
	m *metrics.Metrics,
) *QAService {
	if m == nil {
		m = metrics.New()
	}
	return &QAService{
		pipeline:      pipeline,
		retriever:     retriever,
		ingestor:      ingestor,
		cache:         cache,
		factory:       factory,
		vectors:       vectors,
		embedProvider: embedProvider,
		chatProvider:  chatProvider,
		metrics:       m,
	}
}

// Ask 先查缓存，未命中再跑流水线。
func (s *QAService) Ask(ctx context.Context, req *AskRequest) (*model.AskResult, error) {
	if s.cache != nil && req != nil {
		cached, err := s.cache.Get(ctx, req.TenantID, req.Question)
		if err == nil && cached != nil {
			cached.Cached = true
			s.metrics.RecordAsk(true, cached.Deduplicated, cached.LowConfidence, nil)
			return cached, nil
		}
	}

	start := time.Now()
	result, err := s.pipeline.Ask(ctx, req)
	if err != nil {
		s.metrics.RecordAsk(false, false, false, err)
		return nil, err
	}
	s.metrics.RecordAsk(false, result.Deduplicated, result.LowConfidence, nil)
	s.metrics.RecordGeneration(time.Since(start), nil)

	if s.cache != nil {
		s.cache.Set(ctx, req.TenantID, req.Question, result)
	}
	return result, nil
}

// SearchChunks 用混合检索器直接检索文档块。
func (s *QAService) SearchChunks(ctx context.Context, tenantID, query string, limit int, scoreThreshold float64) (*model.SearchChunksResult, error) {
	start := time.Now()
	retrieval, err := s.retriever.Retrieve(ctx, store.Scope{TenantID: tenantID}, query, limit)
	s.metrics.RecordRetrieval(time.Since(start), retrieval != nil && retrieval.Degraded, err)
	if err != nil {
		return nil, err
	}

	hits := make([]*model.ChunkHit, 0, len(retrieval.Candidates))
	for _, c := range retrieval.Candidates {
		if scoreThreshold > 0 && c.Score < scoreThreshold {
			continue
		}
		hits = append(hits, &model.ChunkHit{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Score:      c.Score,
			Method:     c.Method,
		})
	}

	return &model.SearchChunksResult{
		Hits:     hits,
		Degraded: retrieval.Degraded,
	}, nil
}

// IngestDocument 摄取一篇文档并记录指标。
func (s *QAService) IngestDocument(ctx context.Context, tenantID, documentID, text string, opts IngestOptions) (*model.IngestResult, error) {
	result, err := s.ingestor.IngestDocument(ctx, tenantID, documentID, text, opts)
	if err != nil {
		s.metrics.RecordIngest(0, 0, err)
		return nil, err
	}
	s.metrics.RecordIngest(result.ChunksCreated, result.ChunksEmbedded, nil)
	return result, nil
}

// GetAnswer 按 ID 取回持久化的答案，未找到返回 (nil, nil)。
func (s *QAService) GetAnswer(ctx context.Context, tenantID, answerID string) (*model.AskResult, error) {
	answer, err := s.factory.Answers().Get(ctx, tenantID, answerID)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, nil
	}
	return s.pipeline.toResult(answer, false), nil
}

// GetStats 汇总知识库与运行指标。
func (s *QAService) GetStats(ctx context.Context, tenantID string) (map[string]any, error) {
	stats := map[string]any{
		"embed_provider": s.embedProvider.Name(),
		"chat_provider":  s.chatProvider.Name(),
		"metrics":        s.metrics.Stats(),
	}

	if tenantID != "" {
		docCount, err := s.factory.Documents().CountByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		chunkCount, err := s.factory.Chunks().CountByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		stats["documents"] = docCount
		stats["chunks"] = chunkCount
	}

	if s.vectors != nil {
		if vectorCount, err := s.vectors.Count(ctx); err == nil {
			stats["vectors"] = vectorCount
		} else {
			logger.Debugw("获取向量库统计失败", "error", err.Error())
		}
	}

	if s.cache != nil {
		if cacheStats, err := s.cache.Stats(ctx); err == nil {
			stats["cache"] = cacheStats
		}
	}

	return stats, nil
}

// 确保 QAService 实现了 Service 接口。
var _ Service = (*QAService)(nil)

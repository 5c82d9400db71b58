package biz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/documind-io/documind/internal/documind/metrics"
	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
)

type serviceFixture struct {
	service *QAService
	chat    *mockChatProvider
	vectors *mockVectorStore
	metrics *metrics.Metrics
	redis   *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	factory, err := store.NewSQLFactory(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	vectors := &mockVectorStore{
		searchFn: func(ctx context.Context, scope store.Scope, embedding []float32, topK int) ([]store.VectorHit, error) {
			return []store.VectorHit{
				{ChunkID: "chunk-a", DocumentID: "doc-1", Score: 0.9},
				{ChunkID: "chunk-b", DocumentID: "doc-1", Score: 0.8},
			}, nil
		},
	}
	chunks := &mockChunkStore{
		getBatchFn: func(ctx context.Context, tenantID string, chunkIDs []string) ([]*model.Chunk, error) {
			out := make([]*model.Chunk, len(chunkIDs))
			for i, id := range chunkIDs {
				out[i] = &model.Chunk{ID: id, TenantID: tenantID, DocumentID: "doc-1",
					Content: "hybrid retrieval fuses vector and keyword results for " + id}
			}
			return out, nil
		},
	}
	embed := &mockEmbedProvider{}
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			return "hybrid retrieval fuses vector and keyword results as described [1]", nil
		},
	}

	retriever := NewHybridRetriever(vectors, &mockKeywordIndex{}, chunks, embed, nil)
	generator := NewGenerator(chat, nil)
	extractor := NewCitationExtractor(CitationConfig{}, 0.4)
	pipeline := NewPipeline(retriever, nil, generator, extractor, factory.Answers(), nil)
	ingestor := NewIngestor(factory, vectors, embed, nil, nil)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewAnswerCache(client, &AnswerCacheConfig{Enabled: true, TTL: time.Minute})

	m := metrics.New()
	service := NewQAService(pipeline, retriever, ingestor, cache, factory, vectors, embed, chat, m)
	return &serviceFixture{service: service, chat: chat, vectors: vectors, metrics: m, redis: mr}
}

func TestServiceAskCacheFirst(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	req := &AskRequest{TenantID: "tenant-a", Question: "向量检索与关键词检索如何融合？"}

	first, err := f.service.Ask(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	callsAfterFirst := f.chat.calls()

	second, err := f.service.Ask(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.AnswerID, second.AnswerID)
	assert.Equal(t, callsAfterFirst, f.chat.calls(), "缓存命中不得再调用生成模型")

	stats := f.metrics.Stats()
	asks, ok := stats["asks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, uint64(2), asks["total"])
	assert.Equal(t, uint64(1), asks["cache_hits"])
}

func TestServiceSearchChunksThreshold(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.SearchChunks(context.Background(), "tenant-a", "hybrid retrieval", 10, 0)
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.False(t, result.Degraded)

	// 阈值高于所有融合得分时全部被滤掉
	filtered, err := f.service.SearchChunks(context.Background(), "tenant-a", "hybrid retrieval", 10, 1.0)
	require.NoError(t, err)
	assert.Empty(t, filtered.Hits)
}

func TestServiceGetAnswer(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	asked, err := f.service.Ask(ctx, &AskRequest{TenantID: "tenant-a", Question: "混合检索是什么？"})
	require.NoError(t, err)

	got, err := f.service.GetAnswer(ctx, "tenant-a", asked.AnswerID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, asked.Answer, got.Answer)
	assert.Len(t, got.Citations, len(asked.Citations))

	// 跨租户不可见
	other, err := f.service.GetAnswer(ctx, "tenant-b", asked.AnswerID)
	require.NoError(t, err)
	assert.Nil(t, other)

	missing, err := f.service.GetAnswer(ctx, "tenant-a", "no-such-answer")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceIngestAndStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result, err := f.service.IngestDocument(ctx, "tenant-a", "doc-1",
		"混合检索将向量召回与关键词召回用倒数排名融合合并，再交给重排器调序。", IngestOptions{Title: "检索说明"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCreated)

	stats, err := f.service.GetStats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "mock-embed", stats["embed_provider"])
	assert.Equal(t, "mock-chat", stats["chat_provider"])
	assert.Equal(t, int64(1), stats["documents"])
	assert.Equal(t, int64(1), stats["chunks"])

	ingest, ok := stats["metrics"].(map[string]any)["ingest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ingest["documents"])
}

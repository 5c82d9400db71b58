package biz

import (
	"context"
	"sync/atomic"

	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/pkg/llm"
)

// 手写测试替身。字段为函数时按函数执行，否则返回零值成功。

type mockVectorStore struct {
	searchFn func(ctx context.Context, scope store.Scope, embedding []float32, topK int) ([]store.VectorHit, error)
	upsertFn func(ctx context.Context, chunks []store.EmbeddedChunk) error
	deleteFn func(ctx context.Context, tenantID, documentID string) error

	upserted [][]store.EmbeddedChunk
}

func (m *mockVectorStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }

func (m *mockVectorStore) Upsert(ctx context.Context, chunks []store.EmbeddedChunk) error {
	m.upserted = append(m.upserted, chunks)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, chunks)
	}
	return nil
}

func (m *mockVectorStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tenantID, documentID)
	}
	return nil
}

func (m *mockVectorStore) Search(ctx context.Context, scope store.Scope, embedding []float32, topK int) ([]store.VectorHit, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, scope, embedding, topK)
	}
	return nil, nil
}

func (m *mockVectorStore) Count(ctx context.Context) (int64, error) { return 0, nil }
func (m *mockVectorStore) Close() error                             { return nil }

type mockChunkStore struct {
	store.ChunkStore
	getBatchFn func(ctx context.Context, tenantID string, chunkIDs []string) ([]*model.Chunk, error)
}

func (m *mockChunkStore) GetBatch(ctx context.Context, tenantID string, chunkIDs []string) ([]*model.Chunk, error) {
	if m.getBatchFn != nil {
		return m.getBatchFn(ctx, tenantID, chunkIDs)
	}
	out := make([]*model.Chunk, len(chunkIDs))
	for i, id := range chunkIDs {
		out[i] = &model.Chunk{ID: id, TenantID: tenantID, DocumentID: "doc-1", Content: "content of " + id}
	}
	return out, nil
}

type mockKeywordIndex struct {
	searchFn func(ctx context.Context, scope store.Scope, query string, topK int) ([]store.KeywordHit, error)
}

func (m *mockKeywordIndex) Search(ctx context.Context, scope store.Scope, query string, topK int) ([]store.KeywordHit, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, scope, query, topK)
	}
	return nil, nil
}

type mockEmbedProvider struct {
	embedFn       func(ctx context.Context, texts []string) ([][]float32, error)
	embedSingleFn func(ctx context.Context, text string) ([]float32, error)
	embedCalls    int32
}

func (m *mockEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&m.embedCalls, 1)
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *mockEmbedProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if m.embedSingleFn != nil {
		return m.embedSingleFn(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedProvider) Name() string { return "mock-embed" }

type mockChatProvider struct {
	generateFn    func(ctx context.Context, prompt, systemPrompt string) (string, error)
	generateCalls int32
}

func (m *mockChatProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "", nil
}

func (m *mockChatProvider) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	atomic.AddInt32(&m.generateCalls, 1)
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt, systemPrompt)
	}
	return "mock answer", nil
}

func (m *mockChatProvider) Name() string { return "mock-chat" }

func (m *mockChatProvider) calls() int {
	return int(atomic.LoadInt32(&m.generateCalls))
}

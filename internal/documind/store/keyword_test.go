package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeywordIndexSearch(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	seedChunks(t, f, "tenant-a", "doc-1", []string{
		"milvus is a vector database for similarity search",
		"redis is an in-memory cache",
		"milvus search uses vector indexes like hnsw",
	})
	seedChunks(t, f, "tenant-b", "doc-9", []string{
		"milvus appears in another tenant",
	})

	kw := f.Keyword()

	t.Run("多词命中排前", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-a"}, "milvus vector search", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		// 两条 milvus 块都命中全部词项，得分并列时按 ID 升序
		require.Equal(t, "doc-1-chunk-000", hits[0].ChunkID)
		require.Equal(t, "doc-1-chunk-002", hits[1].ChunkID)
		require.Equal(t, hits[0].Score, hits[1].Score)
	})

	t.Run("部分命中得分较低", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-a"}, "redis vector", 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		for _, h := range hits {
			require.Greater(t, h.Score, 0.0)
			require.Less(t, h.Score, 1.0)
		}
	})

	t.Run("租户隔离", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-b"}, "milvus", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		require.Equal(t, "doc-9", hits[0].DocumentID)
	})

	t.Run("限定文档范围", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{
			TenantID:    "tenant-a",
			DocumentIDs: []string{"doc-404"},
		}, "milvus", 10)
		require.NoError(t, err)
		require.Empty(t, hits)
	})

	t.Run("无命中返回空而非错误", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-a"}, "kubernetes", 10)
		require.NoError(t, err)
		require.Empty(t, hits)
	})

	t.Run("空查询返回空", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-a"}, "   ", 10)
		require.NoError(t, err)
		require.Empty(t, hits)
	})

	t.Run("缺少租户报错", func(t *testing.T) {
		_, err := kw.Search(ctx, Scope{}, "milvus", 10)
		require.Error(t, err)
	})

	t.Run("topK 截断", func(t *testing.T) {
		hits, err := kw.Search(ctx, Scope{TenantID: "tenant-a"}, "milvus", 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
	})
}

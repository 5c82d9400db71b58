package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documind-io/documind/internal/model"
)

func newAnswer(id, tenantID, runHash string) *model.Answer {
	return &model.Answer{
		ID:         id,
		TenantID:   tenantID,
		Question:   "什么是混合检索?",
		AnswerText: "混合检索融合向量检索与关键词检索的结果 [1]。",
		ModelUsed:  "qwen2.5:7b",
		RunHash:    runHash,
		Confidence: 0.82,
		Citations: []model.Citation{
			{
				ID:            id + "-cit-1",
				SourceChunkID: "chunk-1",
				SpanStart:     0,
				SpanEnd:       20,
				Confidence:    0.9,
				Kind:          model.CitationKindDirect,
			},
		},
	}
}

func TestAnswerStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	require.NoError(t, f.Answers().Create(ctx, newAnswer("ans-1", "tenant-a", "hash-1")))

	t.Run("级联加载引用", func(t *testing.T) {
		got, err := f.Answers().Get(ctx, "tenant-a", "ans-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, 1, got.CitationCount)
		require.Len(t, got.Citations, 1)
		require.Equal(t, model.CitationKindDirect, got.Citations[0].Kind)
	})

	t.Run("跨租户不可见", func(t *testing.T) {
		got, err := f.Answers().Get(ctx, "tenant-b", "ans-1")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("缺少运行哈希报错", func(t *testing.T) {
		require.Error(t, f.Answers().Create(ctx, &model.Answer{
			ID:       "ans-bad",
			TenantID: "tenant-a",
		}))
	})
}

func TestAnswerStoreRunHashDedup(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	require.NoError(t, f.Answers().Create(ctx, newAnswer("ans-1", "tenant-a", "hash-1")))

	t.Run("同租户同哈希冲突", func(t *testing.T) {
		err := f.Answers().Create(ctx, newAnswer("ans-2", "tenant-a", "hash-1"))
		require.ErrorIs(t, err, ErrDuplicateAnswer)
	})

	t.Run("不同租户同哈希互不影响", func(t *testing.T) {
		require.NoError(t, f.Answers().Create(ctx, newAnswer("ans-3", "tenant-b", "hash-1")))
	})

	t.Run("按运行哈希取回", func(t *testing.T) {
		got, err := f.Answers().FindByRunHash(ctx, "tenant-a", "hash-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "ans-1", got.ID)
		require.Len(t, got.Citations, 1)
	})

	t.Run("未知哈希返回空", func(t *testing.T) {
		got, err := f.Answers().FindByRunHash(ctx, "tenant-a", "hash-404")
		require.NoError(t, err)
		require.Nil(t, got)
	})
}

package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateFixture() []*Candidate {
	return []*Candidate{
		{ChunkID: "c1", Content: "milvus 向量数据库 支持 近似检索", Score: 0.03},
		{ChunkID: "c2", Content: "redis 是内存缓存", Score: 0.02},
		{ChunkID: "c3", Content: "milvus 检索 使用 hnsw 索引", Score: 0.01},
	}
}

func TestNewRerankers(t *testing.T) {
	tests := []struct {
		name    string
		stages  []string
		wantErr bool
		wantLen int
	}{
		{"空链合法", nil, false, 0},
		{"启发式阶段", []string{RerankStageHeuristic}, false, 1},
		{"多阶段", []string{RerankStageHeuristic, RerankStageLLM}, false, 2},
		{"未知阶段", []string{"magic"}, true, 0},
	}

	chat := &mockChatProvider{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := NewRerankers(&RerankerConfig{Stages: tt.stages}, chat)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, stages, tt.wantLen)
		})
	}

	t.Run("llm 阶段缺少供应商报错", func(t *testing.T) {
		_, err := NewRerankers(&RerankerConfig{Stages: []string{RerankStageLLM}}, nil)
		require.Error(t, err)
	})
}

func TestHeuristicRerankerIsTotal(t *testing.T) {
	r := &HeuristicReranker{Blend: 0.7}
	in := candidateFixture()

	out, err := r.Rerank(context.Background(), "milvus 检索", in)
	require.NoError(t, err)
	require.Len(t, out, len(in), "输入的每个候选都必须出现在输出中")

	seen := map[string]bool{}
	for _, c := range out {
		seen[c.ChunkID] = true
	}
	for _, c := range in {
		assert.True(t, seen[c.ChunkID])
	}

	// 与问题词项重叠更高的候选应排到前面
	assert.Contains(t, []string{"c1", "c3"}, out[0].ChunkID)
	assert.Equal(t, "c2", out[len(out)-1].ChunkID)
}

func TestHeuristicRerankerStableOnTies(t *testing.T) {
	// 与问题毫无重叠的候选全部并列，必须保持输入顺序
	in := []*Candidate{
		{ChunkID: "b", Content: "xxx", Score: 0.5},
		{ChunkID: "a", Content: "yyy", Score: 0.5},
		{ChunkID: "c", Content: "zzz", Score: 0.5},
	}
	r := &HeuristicReranker{Blend: 0.7}

	out, err := r.Rerank(context.Background(), "quantum entanglement", in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}

func TestLLMRerankerParsesScores(t *testing.T) {
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			return "1: 2\n2: 9\n3: 5", nil
		},
	}
	r := &LLMReranker{Provider: chat, Blend: 1.0}

	out, err := r.Rerank(context.Background(), "q", candidateFixture())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c2", out[0].ChunkID)
	assert.Equal(t, "c3", out[1].ChunkID)
	assert.Equal(t, "c1", out[2].ChunkID)
}

func TestLLMRerankerKeepsScoreOnParseFailure(t *testing.T) {
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			// 只有第三行可解析，其余候选保留归一化先验得分
			return "garbage line\nalso garbage\n3: 10", nil
		},
	}
	r := &LLMReranker{Provider: chat, Blend: 1.0}

	out, err := r.Rerank(context.Background(), "q", candidateFixture())
	require.NoError(t, err)
	require.Len(t, out, 3, "解析失败不允许丢弃候选")
	// c1 保留先验仍居首（满分先验与 c3 的满分并列，稳定排序保序），
	// c3 拿满分后越过 c2
	assert.Equal(t, "c1", out[0].ChunkID)
	assert.Equal(t, "c3", out[1].ChunkID)
	assert.Equal(t, "c2", out[2].ChunkID)
}

func TestParseScoreLine(t *testing.T) {
	tests := []struct {
		line      string
		wantIdx   int
		wantScore float64
		wantOK    bool
	}{
		{"1: 7.5", 1, 7.5, true},
		{"[2]: 3", 2, 3, true},
		{" 3 : 10 ", 3, 10, true},
		{"4: 99", 4, 10, true}, // 截断到 10
		{"5: -2", 5, 0, true},  // 截断到 0
		{"no colon", 0, 0, false},
		{"x: 5", 0, 0, false},
		{"6: abc", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			idx, score, ok := parseScoreLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantIdx, idx)
				assert.Equal(t, tt.wantScore, score)
			}
		})
	}
}

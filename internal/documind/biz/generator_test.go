package biz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorRefusesWithoutContext(t *testing.T) {
	chat := &mockChatProvider{}
	g := NewGenerator(chat, nil)

	t.Run("空候选", func(t *testing.T) {
		answer, err := g.GenerateAnswer(context.Background(), "q", nil)
		require.NoError(t, err)
		assert.Equal(t, RefusalText, answer)
		assert.Equal(t, 0, chat.calls(), "拒答不应调用模型")
	})

	t.Run("候选内容全为空白", func(t *testing.T) {
		answer, err := g.GenerateAnswer(context.Background(), "q", []*Candidate{
			{ChunkID: "c1", Content: "   ", Score: 0.9},
		})
		require.NoError(t, err)
		assert.Equal(t, RefusalText, answer)
	})

	t.Run("全部低于相关性门槛", func(t *testing.T) {
		g := NewGenerator(chat, &GeneratorConfig{MinRelevance: 0.5})
		answer, err := g.GenerateAnswer(context.Background(), "q", []*Candidate{
			{ChunkID: "c1", Content: "text", Score: 0.1},
		})
		require.NoError(t, err)
		assert.Equal(t, RefusalText, answer)
	})
}

func TestGeneratorBuildsNumberedContext(t *testing.T) {
	var captured string
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			captured = prompt
			return "答案 [1]", nil
		},
	}
	g := NewGenerator(chat, nil)

	answer, err := g.GenerateAnswer(context.Background(), "什么是向量检索?", []*Candidate{
		{ChunkID: "c1", Content: "第一段资料", Score: 0.9},
		{ChunkID: "c2", Content: "第二段资料", Score: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, "答案 [1]", answer)

	assert.Contains(t, captured, "[1] 第一段资料")
	assert.Contains(t, captured, "[2] 第二段资料")
	assert.Contains(t, captured, "什么是向量检索?")
	assert.NotContains(t, captured, "{{context}}")
	assert.NotContains(t, captured, "{{question}}")
}

func TestGeneratorRetriesOnce(t *testing.T) {
	t.Run("第二次成功", func(t *testing.T) {
		chat := &mockChatProvider{}
		chat.generateFn = func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			if chat.calls() == 1 {
				return "", errors.New("transient")
			}
			return "second try", nil
		}
		g := NewGenerator(chat, nil)

		answer, err := g.GenerateAnswer(context.Background(), "q", []*Candidate{
			{ChunkID: "c1", Content: "text", Score: 0.9},
		})
		require.NoError(t, err)
		assert.Equal(t, "second try", answer)
		assert.Equal(t, 2, chat.calls())
	})

	t.Run("两次都失败返回 GenerationError", func(t *testing.T) {
		chat := &mockChatProvider{
			generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
				return "", errors.New("model down")
			},
		}
		g := NewGenerator(chat, nil)

		_, err := g.GenerateAnswer(context.Background(), "q", []*Candidate{
			{ChunkID: "c1", Content: "text", Score: 0.9},
		})
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, 2, chat.calls(), "只允许重试一次")
	})
}

func TestGeneratorRejectsEmptyModelOutput(t *testing.T) {
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			return "   \n", nil
		},
	}
	g := NewGenerator(chat, nil)

	_, err := g.GenerateAnswer(context.Background(), "q", []*Candidate{
		{ChunkID: "c1", Content: "text", Score: 0.9},
	})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestGeneratorCustomPrompt(t *testing.T) {
	var captured string
	chat := &mockChatProvider{
		generateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			captured = prompt
			return "ok", nil
		},
	}
	g := NewGenerator(chat, &GeneratorConfig{
		SystemPrompt: "CTX:{{context}}|Q:{{question}}",
	})

	_, err := g.GenerateAnswer(context.Background(), "my question", []*Candidate{
		{ChunkID: "c1", Content: "info", Score: 0.9},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(captured, "CTX:[1] info"))
	assert.True(t, strings.HasSuffix(captured, "|Q:my question"))
}

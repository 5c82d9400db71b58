package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ChunkerConfig
		wantErr bool
	}{
		{"合法配置", ChunkerConfig{ChunkSize: 1000, Overlap: 200}, false},
		{"零重叠合法", ChunkerConfig{ChunkSize: 100, Overlap: 0}, false},
		{"块大小为零", ChunkerConfig{ChunkSize: 0, Overlap: 0}, true},
		{"重叠为负", ChunkerConfig{ChunkSize: 100, Overlap: -1}, true},
		{"重叠不小于块大小", ChunkerConfig{ChunkSize: 100, Overlap: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunking)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkerSplitEmptyInput(t *testing.T) {
	c, err := NewChunker(ChunkerConfig{ChunkSize: 100, Overlap: 20})
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t\n"} {
		_, err := c.Split(text)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
}

func TestChunkerSplitOffsets(t *testing.T) {
	// 2500 个字符、无语义边界：严格按步长 size-overlap 前进
	text := strings.Repeat("a", 2500)
	c, err := NewChunker(ChunkerConfig{ChunkSize: 1000, Overlap: 200})
	require.NoError(t, err)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, 1800, chunks[1].End)
	assert.Equal(t, 1600, chunks[2].Start)
	assert.Equal(t, 2500, chunks[2].End)
}

func TestChunkerSplitShortText(t *testing.T) {
	c, err := NewChunker(ChunkerConfig{ChunkSize: 1000, Overlap: 200})
	require.NoError(t, err)

	chunks, err := c.Split("短文本")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "短文本", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 3, chunks[0].End)
}

func TestChunkerPrefersParagraphBoundary(t *testing.T) {
	// 段落边界落在预算内，块应在空行处截断而不是满 100 字符
	para1 := strings.Repeat("x", 60)
	para2 := strings.Repeat("y", 80)
	text := para1 + "\n\n" + para2

	c, err := NewChunker(ChunkerConfig{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, 62, chunks[0].End, "第一块应在段落边界截断")
	assert.True(t, strings.HasSuffix(chunks[0].Content, "\n\n"))
	assert.Equal(t, 52, chunks[1].Start)
}

func TestChunkerPrefersWordBoundary(t *testing.T) {
	// 无段落或换行，只有空格：在词边界截断
	text := strings.Repeat("word ", 60) // 300 字符
	c, err := NewChunker(ChunkerConfig{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk.Content, " "),
			"每个非末块都应在词边界截断: %q", chunk.Content)
	}
}

func TestChunkerCoverageReconstruction(t *testing.T) {
	// 去掉相邻重叠后顺序拼接应精确还原原文
	tests := []struct {
		name string
		text string
		size int
		ovl  int
	}{
		{"无边界长文本", strings.Repeat("a", 2500), 1000, 200},
		{"多段落文本", strings.Repeat("段落内容。", 30) + "\n\n" + strings.Repeat("more text here ", 40), 120, 30},
		{"带词边界", strings.Repeat("alpha beta gamma ", 50), 100, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(ChunkerConfig{ChunkSize: tt.size, Overlap: tt.ovl})
			require.NoError(t, err)

			chunks, err := c.Split(tt.text)
			require.NoError(t, err)

			var sb strings.Builder
			for i, chunk := range chunks {
				runes := []rune(chunk.Content)
				if i == 0 {
					sb.WriteString(chunk.Content)
				} else {
					sb.WriteString(string(runes[tt.ovl:]))
				}
			}
			assert.Equal(t, tt.text, sb.String())

			// 相邻块重叠恰好为配置值
			for i := 1; i < len(chunks); i++ {
				assert.Equal(t, tt.ovl, chunks[i-1].End-chunks[i].Start)
			}
		})
	}
}

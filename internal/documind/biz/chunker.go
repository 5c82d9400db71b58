package biz

import (
	"fmt"
	"strings"
)

// 默认分块参数。
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// TextChunk 分块结果。偏移为原文的 rune 偏移，end 开区间。
// 相邻两块重叠 overlap 个字符（末块可以更短），
// 去掉重叠后按序拼接可完整还原原文。
type TextChunk struct {
	Seq     int
	Content string
	Start   int
	End     int
}

// ChunkerConfig 分块器配置。
type ChunkerConfig struct {
	// ChunkSize 目标块大小（字符数）。
	ChunkSize int
	// Overlap 相邻块的重叠字符数，须小于 ChunkSize。
	Overlap int
}

// Chunker 把文档全文切成带重叠的有序块。纯函数，不做持久化。
type Chunker struct {
	config ChunkerConfig
}

// NewChunker 创建分块器。参数非法时返回 ErrInvalidChunking。
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidChunking, config.ChunkSize)
	}
	if config.Overlap < 0 || config.Overlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d (chunk size %d)", ErrInvalidChunking, config.Overlap, config.ChunkSize)
	}
	return &Chunker{config: config}, nil
}

// Split 切分文本。空白输入返回 ErrEmptyInput。
//
// 块边界按优先级贴齐语义分隔符：段落 > 换行 > 词 > 字符。
// 只有当贴齐后块长仍大于重叠量时才接受该边界，保证每一步都前进。
func (c *Chunker) Split(text string) ([]TextChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	runes := []rune(text)
	total := len(runes)

	if total <= c.config.ChunkSize {
		return []TextChunk{{Seq: 0, Content: text, Start: 0, End: total}}, nil
	}

	var chunks []TextChunk
	start := 0
	for start < total {
		end := start + c.config.ChunkSize
		if end >= total {
			end = total
		} else {
			end = c.snapBoundary(runes, start, end)
		}

		chunks = append(chunks, TextChunk{
			Seq:     len(chunks),
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})

		if end >= total {
			break
		}
		start = end - c.config.Overlap
	}

	return chunks, nil
}

// snapBoundary 在 (start+overlap, limit] 内找最靠后的语义边界。
// 返回值是新的块结束偏移；找不到任何边界时保持 limit（按字符切）。
func (c *Chunker) snapBoundary(runes []rune, start, limit int) int {
	// 边界必须落在重叠量之后，否则下一块无法前进
	min := start + c.config.Overlap + 1

	// 段落边界：空行之后
	if pos := lastBoundary(runes, min, limit, isParagraphBreak); pos > 0 {
		return pos
	}
	// 行边界
	if pos := lastBoundary(runes, min, limit, isLineBreak); pos > 0 {
		return pos
	}
	// 词边界
	if pos := lastBoundary(runes, min, limit, isWordBreak); pos > 0 {
		return pos
	}
	return limit
}

// lastBoundary 从 limit 往回扫，返回首个满足 match 的切分点（取分隔
// 符之后的位置），使分隔符留在前一块内。无匹配返回 0。
func lastBoundary(runes []rune, min, limit int, match func([]rune, int) bool) int {
	for pos := limit; pos >= min; pos-- {
		if match(runes, pos) {
			return pos
		}
	}
	return 0
}

func isParagraphBreak(runes []rune, pos int) bool {
	return pos >= 2 && runes[pos-1] == '\n' && runes[pos-2] == '\n'
}

func isLineBreak(runes []rune, pos int) bool {
	return pos >= 1 && runes[pos-1] == '\n'
}

func isWordBreak(runes []rune, pos int) bool {
	return pos >= 1 && (runes[pos-1] == ' ' || runes[pos-1] == '\t')
}

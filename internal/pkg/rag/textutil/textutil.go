// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，1 表示完全相同，-1 表示完全相反。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeCosineSimilarity 将余弦相似度归一化到 [0, 1] 范围。
func NormalizeCosineSimilarity(similarity float64) float64 {
	return (similarity + 1) / 2
}

// HashString 计算字符串的 SHA-256 哈希值（十六进制编码）。
func HashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// Token 是分词结果中的一个词元。Start/End 为原文中的 Unicode 字符偏移，
// End 为开区间。Text 已转换为小写。
type Token struct {
	Text  string
	Start int
	End   int
}

// TokenizeWithOffsets 按字母数字边界分词并记录每个词元的字符偏移。
// CJK 字符逐字成词，其余连续的字母数字序列为一个词元。
func TokenizeWithOffsets(s string) []Token {
	var tokens []Token
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.Is(unicode.Han, r):
			tokens = append(tokens, Token{Text: string(r), Start: i, End: i + 1})
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) && !unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			tokens = append(tokens, Token{
				Text:  strings.ToLower(string(runes[i:j])),
				Start: i,
				End:   j,
			})
			i = j
		default:
			i++
		}
	}
	return tokens
}

// Tokenize 分词并仅返回小写词元文本。
func Tokenize(s string) []string {
	tokens := TokenizeWithOffsets(s)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Text)
	}
	return out
}

// NGramSet 构建词元序列的 n-gram 集合。n <= 1 时退化为词元集合。
func NGramSet(tokens []string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	if n <= 1 {
		for _, t := range tokens {
			set[t] = struct{}{}
		}
		return set
	}
	for i := 0; i+n <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+n], " ")] = struct{}{}
	}
	return set
}

// TokenOverlap 计算两个词元集合的 Jaccard 重叠度，范围 [0, 1]。
func TokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// LongestRun 找出布尔序列中最长的连续 true 区间。
// 返回区间起始下标和长度；不存在时长度为 0。
func LongestRun(marks []bool) (start, length int) {
	bestStart, bestLen := 0, 0
	curStart, curLen := 0, 0
	for i, m := range marks {
		if !m {
			curLen = 0
			continue
		}
		if curLen == 0 {
			curStart = i
		}
		curLen++
		if curLen > bestLen {
			bestStart, bestLen = curStart, curLen
		}
	}
	return bestStart, bestLen
}

// ContainsString 检查字符串切片是否包含指定元素。
func ContainsString(slice []string, item string) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

package biz

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kart-io/logger"

	"github.com/documind-io/documind/internal/pkg/rag/textutil"
	"github.com/documind-io/documind/pkg/llm"
)

// 重排序阶段名。通过配置显式选择，不存在全局注册表。
const (
	RerankStageHeuristic = "heuristic"
	RerankStageLLM       = "llm"
)

// DefaultRerankBlend 重排序得分与检索得分的混合权重：
// 新得分 = (1-blend)·归一化检索得分 + blend·阶段得分。
const DefaultRerankBlend = 0.7

// Reranker 重排序阶段。实现必须是全量的：输入的每个候选在输出中
// 恰好出现一次，绝不丢弃；得分并列时保持输入顺序（稳定排序）。
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []*Candidate) ([]*Candidate, error)
	Name() string
}

// RerankerConfig 重排序链配置。Stages 逐个命名阶段，空链合法
// （直接使用融合顺序）。
type RerankerConfig struct {
	Stages []string
	// Blend 阶段得分的混合权重，(0,1]。
	Blend float64
}

// NewRerankers 按配置构建重排序链。未知阶段名报错。
func NewRerankers(config *RerankerConfig, chatProvider llm.ChatProvider) ([]Reranker, error) {
	if config == nil {
		return nil, nil
	}
	blend := config.Blend
	if blend <= 0 || blend > 1 {
		blend = DefaultRerankBlend
	}

	stages := make([]Reranker, 0, len(config.Stages))
	for _, name := range config.Stages {
		switch name {
		case RerankStageHeuristic:
			stages = append(stages, &HeuristicReranker{Blend: blend})
		case RerankStageLLM:
			if chatProvider == nil {
				return nil, fmt.Errorf("llm 重排序阶段需要聊天供应商")
			}
			stages = append(stages, &LLMReranker{Provider: chatProvider, Blend: blend})
		default:
			return nil, fmt.Errorf("未知的重排序阶段: %s", name)
		}
	}
	return stages, nil
}

// rescore 用阶段得分混合改写候选得分并稳定排序。
// stageScores 与 candidates 等长，取值 [0,1]。
func rescore(candidates []*Candidate, stageScores []float64, blend float64) []*Candidate {
	maxPrior := 0.0
	for _, c := range candidates {
		if c.Score > maxPrior {
			maxPrior = c.Score
		}
	}

	out := make([]*Candidate, len(candidates))
	for i, c := range candidates {
		prior := 0.0
		if maxPrior > 0 {
			prior = c.Score / maxPrior
		}
		rescored := *c
		rescored.Score = (1-blend)*prior + blend*stageScores[i]
		out[i] = &rescored
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// HeuristicReranker 词项重叠重排序：阶段得分为问题与候选内容的
// Jaccard 重叠度，无外部调用。
type HeuristicReranker struct {
	Blend float64
}

func (r *HeuristicReranker) Name() string { return RerankStageHeuristic }

func (r *HeuristicReranker) Rerank(ctx context.Context, question string, candidates []*Candidate) ([]*Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	questionTokens := textutil.Tokenize(question)
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = textutil.TokenOverlap(questionTokens, textutil.Tokenize(c.Content))
	}
	return rescore(candidates, scores, r.Blend), nil
}

// LLMReranker 用聊天模型为每个候选打 0-10 分。模型输出解析失败的
// 候选保留原得分，绝不因为个别行解析失败而丢弃候选。
type LLMReranker struct {
	Provider llm.ChatProvider
	Blend    float64
}

func (r *LLMReranker) Name() string { return RerankStageLLM }

const rerankPrompt = `为下列段落与问题的相关性打分，0 到 10 分。
问题: %s

%s
只输出每行一个 "序号: 分数"，不要其他内容。`

func (r *LLMReranker) Rerank(ctx context.Context, question string, candidates []*Candidate) ([]*Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	var sb strings.Builder
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, textutil.TruncateString(c.Content, 500)))
	}

	resp, err := r.Provider.Generate(ctx, fmt.Sprintf(rerankPrompt, question, sb.String()), "")
	if err != nil {
		return nil, fmt.Errorf("重排序调用失败: %w", err)
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		// 归一化先验作为兜底，确保解析失败时得分不变
		scores[i] = fallbackScore(c, candidates)
	}
	for _, line := range strings.Split(resp, "\n") {
		idx, score, ok := parseScoreLine(line)
		if !ok || idx < 1 || idx > len(candidates) {
			continue
		}
		scores[idx-1] = score / 10.0
	}

	return rescore(candidates, scores, r.Blend), nil
}

// fallbackScore 返回候选的归一化先验得分。
func fallbackScore(c *Candidate, candidates []*Candidate) float64 {
	maxPrior := 0.0
	for _, other := range candidates {
		if other.Score > maxPrior {
			maxPrior = other.Score
		}
	}
	if maxPrior == 0 {
		return 0
	}
	return c.Score / maxPrior
}

// parseScoreLine 解析 "序号: 分数" 行，分数截断到 [0,10]。
func parseScoreLine(line string) (int, float64, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	idxStr := strings.TrimSuffix(strings.TrimSpace(parts[0]), "]")
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, 0, false
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		logger.Debugw("重排序得分解析失败", "line", line)
		return 0, 0, false
	}
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return idx, score, true
}

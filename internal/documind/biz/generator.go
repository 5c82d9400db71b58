package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/documind-io/documind/pkg/llm"
)

// RefusalText 上下文不足时的拒答文本，同时作为该情形的标记返回。
const RefusalText = "根据现有资料无法回答该问题（insufficient information）。"

// DefaultSystemPrompt 默认提示词模板，{{context}} 与 {{question}}
// 在生成时被替换。
const DefaultSystemPrompt = `你是一个严谨的文档问答助手。只依据下面提供的资料回答问题，禁止编造资料之外的内容。引用资料时给出形如 [1] 的编号。如果资料不足以回答，请明确说明无法回答。

资料:
{{context}}

问题: {{question}}

回答:`

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 提示词模板，留空使用默认模板。
	SystemPrompt string
	// MinRelevance 进入生成的最低候选得分，所有候选都低于它时拒答。
	MinRelevance float64
}

// Generator 负责答案生成。生成调用失败以相同输入重试一次，
// 再失败则以 GenerationError 冒泡。
type Generator struct {
	chatProvider llm.ChatProvider
	config       *GeneratorConfig
}

// NewGenerator 创建生成器实例。
func NewGenerator(chatProvider llm.ChatProvider, config *GeneratorConfig) *Generator {
	if config == nil {
		config = &GeneratorConfig{}
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Generator{
		chatProvider: chatProvider,
		config:       config,
	}
}

// GenerateAnswer 根据候选上下文生成答案。候选为空或全部低于
// 相关性门槛时返回拒答文本，不调用模型。
func (g *Generator) GenerateAnswer(ctx context.Context, question string, candidates []*Candidate) (string, error) {
	if !g.hasRelevantContext(candidates) {
		logger.Infow("候选不足，拒答", "question", question, "candidates", len(candidates))
		return RefusalText, nil
	}

	prompt := g.buildPrompt(question, candidates)

	answer, err := g.chatProvider.Generate(ctx, prompt, "")
	if err != nil {
		// 以相同输入重试一次
		logger.Warnw("生成失败，重试一次", "error", err.Error())
		answer, err = g.chatProvider.Generate(ctx, prompt, "")
		if err != nil {
			return "", &GenerationError{Err: err}
		}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &GenerationError{Err: fmt.Errorf("模型返回空答案")}
	}

	logger.Infow("答案生成完成", "answer_length", len(answer))
	return answer, nil
}

func (g *Generator) hasRelevantContext(candidates []*Candidate) bool {
	for _, c := range candidates {
		if c.Score >= g.config.MinRelevance && strings.TrimSpace(c.Content) != "" {
			return true
		}
	}
	return false
}

// buildPrompt 把候选编号拼进模板。编号与候选顺序一一对应，
// 供引用抽取反向对齐。
func (g *Generator) buildPrompt(question string, candidates []*Candidate) string {
	var contextBuilder strings.Builder
	for i, c := range candidates {
		contextBuilder.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, c.Content))
	}

	prompt := strings.ReplaceAll(g.config.SystemPrompt, "{{context}}", contextBuilder.String())
	return strings.ReplaceAll(prompt, "{{question}}", question)
}

package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/internal/pkg/rag/textutil"
)

// Stage 流水线阶段。
type Stage string

const (
	StageRetrieving Stage = "RETRIEVING"
	StageReranking  Stage = "RERANKING"
	StageGenerating Stage = "GENERATING"
	StageScoring    Stage = "SCORING"
	StagePersisting Stage = "PERSISTING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// stageTransitions 合法的阶段迁移。严格顺序推进，不跳段不回退；
// FAILED 可从任意非终态进入。
var stageTransitions = map[Stage][]Stage{
	StageRetrieving: {StageReranking, StageFailed},
	StageReranking:  {StageGenerating, StageFailed},
	StageGenerating: {StageScoring, StageFailed},
	StageScoring:    {StagePersisting, StageFailed},
	StagePersisting: {StageDone, StageFailed},
	StageDone:       {},
	StageFailed:     {},
}

// ValidTransition 判断 from → to 是否为合法迁移。
func ValidTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// 流水线默认参数。
const (
	DefaultContextSize      = 10
	DefaultMaxQuestionLen   = 2000
	DefaultLowConfidence    = 0.4
	DefaultRerankPoolFactor = 4
)

// PipelineConfig 流水线配置。
type PipelineConfig struct {
	// ContextSize 最后一个重排序阶段之后保留的上下文块数。
	ContextSize int
	// RerankPoolFactor 重排序候选池相对 ContextSize 的倍数。
	// 检索阶段取 ContextSize*RerankPoolFactor 条候选，让重排序
	// 有机会把融合排名靠后的块提进上下文。
	RerankPoolFactor int
	// MaxQuestionLen 问题长度上限（rune 数）。
	MaxQuestionLen int
	// LowConfidenceThreshold 低置信度标记阈值。
	LowConfidenceThreshold float64
}

// Complete 填充缺省值。
func (c *PipelineConfig) Complete() {
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.RerankPoolFactor <= 0 {
		c.RerankPoolFactor = DefaultRerankPoolFactor
	}
	if c.MaxQuestionLen <= 0 {
		c.MaxQuestionLen = DefaultMaxQuestionLen
	}
	if c.LowConfidenceThreshold <= 0 {
		c.LowConfidenceThreshold = DefaultLowConfidence
	}
}

// AskRequest 一次问答请求。
type AskRequest struct {
	TenantID     string
	UserID       string
	SessionID    string
	Question     string
	MaxCitations int
	// DocumentIDs 非空时检索范围限定这些文档。
	DocumentIDs []string
}

// Pipeline 按状态机编排一次问答运行：
// RETRIEVING → RERANKING → GENERATING → SCORING → PERSISTING → DONE。
// 进入 PERSISTING 时按 (租户, 问题, 上下文块集合) 的内容哈希查重，
// 命中则直接返回既有答案，不再调用生成。任何阶段失败整次运行
// 进入 FAILED，对外只暴露 PipelineError，绝不持久化半成品。
type Pipeline struct {
	retriever *HybridRetriever
	rerankers []Reranker
	generator *Generator
	extractor *CitationExtractor
	answers   store.AnswerStore
	config    *PipelineConfig
}

// NewPipeline 创建流水线。rerankers 可以为空链。
func NewPipeline(
	retriever *HybridRetriever,
	rerankers []Reranker,
	generator *Generator,
	extractor *CitationExtractor,
	answers store.AnswerStore,
	config *PipelineConfig,
) *Pipeline {
	if config == nil {
		config = &PipelineConfig{}
	}
	config.Complete()
	return &Pipeline{
		retriever: retriever,
		rerankers: rerankers,
		generator: generator,
		extractor: extractor,
		answers:   answers,
		config:    config,
	}
}

// run 单次运行的可变状态。
type run struct {
	stage      Stage
	request    *AskRequest
	candidates []*Candidate
	contextIDs []string
	runHash    string
	degraded   bool
	answerText string
	modelUsed  string
	citations  *CitationResult
}

// advance 推进到下一阶段。外部调用已在阶段之间检查取消。
func (r *run) advance(ctx context.Context, next Stage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("请求已取消: %w", err)
	}
	if !ValidTransition(r.stage, next) {
		return fmt.Errorf("非法的阶段迁移: %s → %s", r.stage, next)
	}
	r.stage = next
	return nil
}

func (p *Pipeline) fail(r *run, err error) error {
	prev := r.stage
	r.stage = StageFailed
	logger.Warnw("流水线运行失败", "stage", string(prev), "error", err.Error())
	return &PipelineError{Stage: prev, Err: err}
}

// Ask 执行一次完整的问答运行。
func (p *Pipeline) Ask(ctx context.Context, req *AskRequest) (*model.AskResult, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	r := &run{stage: StageRetrieving, request: req}
	scope := store.Scope{TenantID: req.TenantID, DocumentIDs: req.DocumentIDs}

	// RETRIEVING：候选池比最终上下文大 RerankPoolFactor 倍，
	// ContextSize 截断推迟到最后一个重排序阶段之后
	poolSize := p.config.ContextSize * p.config.RerankPoolFactor
	retrieval, err := p.retriever.Retrieve(ctx, scope, req.Question, poolSize)
	if err != nil {
		return nil, p.fail(r, err)
	}
	r.candidates = retrieval.Candidates
	r.degraded = retrieval.Degraded

	// RERANKING
	if err := r.advance(ctx, StageReranking); err != nil {
		return nil, p.fail(r, err)
	}
	for _, stage := range p.rerankers {
		reranked, rerankErr := stage.Rerank(ctx, req.Question, r.candidates)
		if rerankErr != nil {
			// 重排序阶段失败不致命，保留上一阶段的顺序
			logger.Warnw("重排序阶段失败，保留现有顺序",
				"stage", stage.Name(),
				"error", rerankErr.Error(),
			)
			continue
		}
		r.candidates = reranked
	}
	// 上下文截断只发生在最后一个重排序阶段之后
	if len(r.candidates) > p.config.ContextSize {
		r.candidates = r.candidates[:p.config.ContextSize]
	}

	// 上下文集合就绪后即可判定幂等：同租户同问题同上下文集合的
	// 运行直接返回既有答案，不再调用生成
	r.contextIDs = make([]string, len(r.candidates))
	for i, c := range r.candidates {
		r.contextIDs[i] = c.ChunkID
	}
	r.runHash = RunHash(req.TenantID, strings.TrimSpace(req.Question), r.contextIDs)
	existing, err := p.answers.FindByRunHash(ctx, req.TenantID, r.runHash)
	if err != nil {
		return nil, p.fail(r, err)
	}
	if existing != nil {
		logger.Infow("命中去重，跳过生成返回既有答案",
			"tenant_id", req.TenantID,
			"answer_id", existing.ID,
		)
		r.stage = StageDone
		result := p.toResult(existing, true)
		result.Degraded = r.degraded
		return result, nil
	}

	// GENERATING
	if err := r.advance(ctx, StageGenerating); err != nil {
		return nil, p.fail(r, err)
	}
	answerText, err := p.generator.GenerateAnswer(ctx, req.Question, r.candidates)
	if err != nil {
		return nil, p.fail(r, err)
	}
	r.answerText = answerText
	r.modelUsed = p.generator.chatProvider.Name()

	// SCORING
	if err := r.advance(ctx, StageScoring); err != nil {
		return nil, p.fail(r, err)
	}
	if answerText == RefusalText {
		// 拒答没有可对齐的内容
		r.citations = p.extractor.floorResult()
	} else {
		r.citations = p.extractor.Extract(answerText, r.candidates, req.MaxCitations)
	}

	// PERSISTING
	if err := r.advance(ctx, StagePersisting); err != nil {
		return nil, p.fail(r, err)
	}
	result, err := p.persist(ctx, r)
	if err != nil {
		return nil, p.fail(r, err)
	}

	if err := r.advance(ctx, StageDone); err != nil {
		return nil, p.fail(r, err)
	}
	result.Degraded = r.degraded
	return result, nil
}

func (p *Pipeline) validate(req *AskRequest) error {
	if req == nil || req.TenantID == "" {
		return fmt.Errorf("缺少租户")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > p.config.MaxQuestionLen {
		return fmt.Errorf("%w: %d > %d", ErrQuestionTooLong,
			utf8.RuneCountInString(question), p.config.MaxQuestionLen)
	}
	return nil
}

// RunHash 计算 (租户, 问题, 上下文块集合) 的去重哈希。
// 块 ID 排序后参与哈希，与检索顺序无关。
func RunHash(tenantID, question string, contextChunkIDs []string) string {
	sorted := make([]string, len(contextChunkIDs))
	copy(sorted, contextChunkIDs)
	sort.Strings(sorted)
	return textutil.HashString(tenantID + "\x00" + question + "\x00" + strings.Join(sorted, ","))
}

// persist 持久化答案。运行哈希在生成前已查过重，这里主要防并发：
// 写入撞唯一约束时取回对方的答案返回。
func (p *Pipeline) persist(ctx context.Context, r *run) (*model.AskResult, error) {
	contextIDs := r.contextIDs
	runHash := r.runHash

	answer := &model.Answer{
		ID:              ulid.Make().String(),
		TenantID:        r.request.TenantID,
		UserID:          r.request.UserID,
		SessionID:       r.request.SessionID,
		Question:        r.request.Question,
		AnswerText:      r.answerText,
		ModelUsed:       r.modelUsed,
		RunHash:         runHash,
		AnswerHash:      textutil.HashString(r.answerText),
		ContextChunkIDs: encodeChunkIDs(contextIDs),
		Confidence:      r.citations.Confidence,
	}
	for _, c := range r.citations.Citations {
		answer.Citations = append(answer.Citations, model.Citation{
			ID:               ulid.Make().String(),
			AnswerID:         answer.ID,
			SourceChunkID:    c.ChunkID,
			SourceDocumentID: c.DocumentID,
			SpanStart:        c.SpanStart,
			SpanEnd:          c.SpanEnd,
			Confidence:       c.Confidence,
			Kind:             c.Kind,
		})
	}

	if err := p.answers.Create(ctx, answer); err != nil {
		if errors.Is(err, store.ErrDuplicateAnswer) {
			// 并发运行先一步写入，取回对方的结果
			dup, findErr := p.answers.FindByRunHash(ctx, r.request.TenantID, runHash)
			if findErr == nil && dup != nil {
				return p.toResult(dup, true), nil
			}
		}
		return nil, err
	}

	return p.toResult(answer, false), nil
}

func (p *Pipeline) toResult(answer *model.Answer, deduplicated bool) *model.AskResult {
	views := make([]*model.CitationView, len(answer.Citations))
	for i, c := range answer.Citations {
		views[i] = &model.CitationView{
			ChunkID:    c.SourceChunkID,
			DocumentID: c.SourceDocumentID,
			SpanStart:  c.SpanStart,
			SpanEnd:    c.SpanEnd,
			Confidence: c.Confidence,
			Kind:       c.Kind,
		}
	}
	return &model.AskResult{
		AnswerID:      answer.ID,
		Question:      answer.Question,
		Answer:        answer.AnswerText,
		ModelUsed:     answer.ModelUsed,
		Confidence:    answer.Confidence,
		LowConfidence: answer.Confidence < p.config.LowConfidenceThreshold,
		Citations:     views,
		Deduplicated:  deduplicated,
	}
}

func encodeChunkIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// DecodeChunkIDs 解析持久化的上下文块 ID 列表。
func DecodeChunkIDs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, ",")
}

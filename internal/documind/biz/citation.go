package biz

import (
	"sort"
	"unicode/utf8"

	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/internal/pkg/rag/textutil"
)

// 引用评分默认参数。
const (
	DefaultOverlapGate     = 0.12
	DefaultConfidenceFloor = 0.1
	DefaultMinAnswerLen    = 50
	DefaultMaxAnswerLen    = 2000

	// 判定引用类别的最长连续匹配词数
	directRunTokens   = 8
	indirectRunTokens = 3
)

// CitationConfig 引用抽取与置信度评分配置。
type CitationConfig struct {
	// OverlapGate 词项重叠门槛，低于门槛的块不构成引用。
	OverlapGate float64
	// ConfidenceFloor 零引用时的整体置信度。
	ConfidenceFloor float64
	// MinAnswerLen / MaxAnswerLen 答案长度落在区间内时的小幅加分。
	MinAnswerLen int
	MaxAnswerLen int
}

// Complete 填充缺省值。
func (c *CitationConfig) Complete() {
	if c.OverlapGate <= 0 {
		c.OverlapGate = DefaultOverlapGate
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.MinAnswerLen <= 0 {
		c.MinAnswerLen = DefaultMinAnswerLen
	}
	if c.MaxAnswerLen <= 0 {
		c.MaxAnswerLen = DefaultMaxAnswerLen
	}
}

// ScoredCitation 一条已评分的引用。Span 为答案文本内的 rune 偏移，
// end 开区间，覆盖该引用支撑的最长连续匹配段。
type ScoredCitation struct {
	ChunkID    string
	DocumentID string
	SpanStart  int
	SpanEnd    int
	Confidence float64
	Kind       model.CitationKind
}

// CitationResult 引用抽取的整体结果。
type CitationResult struct {
	Citations  []*ScoredCitation
	Confidence float64
	// LowConfidence 整体置信度低于阈值时为 true，结果仍然返回。
	LowConfidence bool
}

// CitationExtractor 把答案文本对齐回上下文块并评分。纯函数，
// 不做外部调用。
type CitationExtractor struct {
	config CitationConfig
	// LowConfidenceThreshold 低置信度标记的阈值。
	lowThreshold float64
}

// NewCitationExtractor 创建引用抽取器。
func NewCitationExtractor(config CitationConfig, lowConfidenceThreshold float64) *CitationExtractor {
	config.Complete()
	if lowConfidenceThreshold <= 0 {
		lowConfidenceThreshold = 0.4
	}
	return &CitationExtractor{config: config, lowThreshold: lowConfidenceThreshold}
}

// Extract 为每个上下文块判定其对答案的支撑度。maxCitations 限制
// 返回条数上限（0 表示不限制），不保证达到该数量。
func (e *CitationExtractor) Extract(answer string, candidates []*Candidate, maxCitations int) *CitationResult {
	answerTokens := textutil.TokenizeWithOffsets(answer)
	if len(answerTokens) == 0 || len(candidates) == 0 {
		return e.floorResult()
	}

	var citations []*ScoredCitation
	allQualifyAtMax := true
	for _, c := range candidates {
		cit := e.scoreChunk(answerTokens, c)
		if cit == nil {
			allQualifyAtMax = false
			continue
		}
		if cit.Confidence < 1.0 {
			allQualifyAtMax = false
		}
		citations = append(citations, cit)
	}

	if len(citations) == 0 {
		return e.floorResult()
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Confidence != citations[j].Confidence {
			return citations[i].Confidence > citations[j].Confidence
		}
		return citations[i].ChunkID < citations[j].ChunkID
	})
	if maxCitations > 0 && len(citations) > maxCitations {
		citations = citations[:maxCitations]
	}

	confidence := e.overallConfidence(answer, citations, allQualifyAtMax)
	return &CitationResult{
		Citations:     citations,
		Confidence:    confidence,
		LowConfidence: confidence < e.lowThreshold,
	}
}

// scoreChunk 计算单个块对答案的支撑。重叠度为答案词项中出现在块
// 内的比例；低于门槛返回 nil。
func (e *CitationExtractor) scoreChunk(answerTokens []textutil.Token, c *Candidate) *ScoredCitation {
	chunkSet := make(map[string]struct{})
	for _, t := range textutil.Tokenize(c.Content) {
		chunkSet[t] = struct{}{}
	}
	if len(chunkSet) == 0 {
		return nil
	}

	marks := make([]bool, len(answerTokens))
	matched := 0
	for i, t := range answerTokens {
		if _, ok := chunkSet[t.Text]; ok {
			marks[i] = true
			matched++
		}
	}

	overlap := float64(matched) / float64(len(answerTokens))
	if overlap < e.config.OverlapGate {
		return nil
	}

	runStart, runLen := textutil.LongestRun(marks)
	spanStart, spanEnd := 0, 0
	if runLen > 0 {
		spanStart = answerTokens[runStart].Start
		spanEnd = answerTokens[runStart+runLen-1].End
	}

	return &ScoredCitation{
		ChunkID:    c.ChunkID,
		DocumentID: c.DocumentID,
		SpanStart:  spanStart,
		SpanEnd:    spanEnd,
		Confidence: overlap,
		Kind:       citationKind(runLen),
	}
}

// citationKind 按最长连续匹配段的长度判定引用类别：
// 长段近似原文引用，短段视为转述或背景参考。
func citationKind(runLen int) model.CitationKind {
	switch {
	case runLen >= directRunTokens:
		return model.CitationKindDirect
	case runLen >= indirectRunTokens:
		return model.CitationKindIndirect
	default:
		return model.CitationKindReference
	}
}

// overallConfidence 整体置信度：引用数量（饱和计数，收益递减）、
// 平均单条置信度与答案长度加分的加权和。只有全部上下文块都以
// 满重叠入选时才返回 1。
func (e *CitationExtractor) overallConfidence(answer string, citations []*ScoredCitation, allQualifyAtMax bool) float64 {
	if allQualifyAtMax {
		return 1.0
	}

	count := float64(len(citations))
	saturation := count / (count + 1)

	sum := 0.0
	for _, c := range citations {
		sum += c.Confidence
	}
	mean := sum / count

	lengthBonus := 0.0
	answerLen := utf8.RuneCountInString(answer)
	if answerLen >= e.config.MinAnswerLen && answerLen <= e.config.MaxAnswerLen {
		lengthBonus = 1.0
	}

	confidence := 0.45*saturation + 0.45*mean + 0.10*lengthBonus
	if confidence < e.config.ConfidenceFloor {
		confidence = e.config.ConfidenceFloor
	}
	if confidence >= 1.0 {
		confidence = 0.99
	}
	return confidence
}

func (e *CitationExtractor) floorResult() *CitationResult {
	return &CitationResult{
		Citations:     []*ScoredCitation{},
		Confidence:    e.config.ConfidenceFloor,
		LowConfidence: true,
	}
}

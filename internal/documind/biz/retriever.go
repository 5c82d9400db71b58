package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kart-io/logger"

	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/pkg/llm"
)

// 混合检索默认参数。
const (
	DefaultRRFK            = 60
	DefaultOverFetchFactor = 3
	DefaultSimilarityFloor = 0.25
)

// RetrieverConfig 混合检索器配置。
type RetrieverConfig struct {
	// RRFK 倒数排名融合的平滑常数。
	RRFK int
	// OverFetchFactor 每个后端取 topK 的倍数再融合。
	OverFetchFactor int
	// SimilarityFloor 向量相似度下限，低于下限的命中被丢弃。
	SimilarityFloor float64
}

// Complete 填充缺省值。
func (c *RetrieverConfig) Complete() {
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFK
	}
	if c.OverFetchFactor <= 0 {
		c.OverFetchFactor = DefaultOverFetchFactor
	}
	if c.SimilarityFloor <= 0 {
		c.SimilarityFloor = DefaultSimilarityFloor
	}
}

// Candidate 融合后的候选块。Score 为当前相关性得分，可被后续
// 重排序阶段改写；BestSourceScore 保留融合前单后端最高得分，
// 用于并列时的决胜。
type Candidate struct {
	ChunkID         string
	DocumentID      string
	Content         string
	Score           float64
	BestSourceScore float64
	Method          model.RetrievalMethod
}

// RetrievalResult 一次混合检索的结果。
type RetrievalResult struct {
	Candidates []*Candidate
	// Degraded 单个检索后端不可用、结果只来自另一侧时为 true。
	Degraded bool
}

// HybridRetriever 并发查询向量与关键词两个后端，用倒数排名融合
// 合并结果。单侧失败降级为另一侧的结果；双侧失败才报错。
type HybridRetriever struct {
	vectors       store.VectorStore
	keyword       store.KeywordIndex
	chunks        store.ChunkStore
	embedProvider llm.EmbeddingProvider
	config        *RetrieverConfig
}

// NewHybridRetriever 创建混合检索器。
func NewHybridRetriever(
	vectors store.VectorStore,
	keyword store.KeywordIndex,
	chunks store.ChunkStore,
	embedProvider llm.EmbeddingProvider,
	config *RetrieverConfig,
) *HybridRetriever {
	if config == nil {
		config = &RetrieverConfig{}
	}
	config.Complete()
	return &HybridRetriever{
		vectors:       vectors,
		keyword:       keyword,
		chunks:        chunks,
		embedProvider: embedProvider,
		config:        config,
	}
}

// Retrieve 在 scope 内检索与 question 最相关的至多 topK 个块。
// 无命中返回空候选列表而非错误。
func (r *HybridRetriever) Retrieve(ctx context.Context, scope store.Scope, question string, topK int) (*RetrievalResult, error) {
	if topK <= 0 {
		return &RetrievalResult{Candidates: []*Candidate{}}, nil
	}
	fetchK := topK * r.config.OverFetchFactor

	var (
		wg          sync.WaitGroup
		vectorHits  []store.VectorHit
		keywordHits []store.KeywordHit
		vectorErr   error
		keywordErr  error
	)

	// 两个后端彼此独立，并发查询后再融合
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = r.searchVector(ctx, scope, question, fetchK)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = r.keyword.Search(ctx, scope, question, fetchK)
	}()
	wg.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, &RetrievalError{Err: fmt.Errorf("向量后端: %v; 关键词后端: %v", vectorErr, keywordErr)}
	}

	degraded := vectorErr != nil || keywordErr != nil
	if vectorErr != nil {
		logger.Warnw("向量检索不可用，降级为纯关键词检索", "error", vectorErr.Error())
	}
	if keywordErr != nil {
		logger.Warnw("关键词检索不可用，降级为纯向量检索", "error", keywordErr.Error())
	}

	candidates := r.fuse(vectorHits, keywordHits)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	candidates, err := r.hydrate(ctx, scope.TenantID, candidates)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	return &RetrievalResult{Candidates: candidates, Degraded: degraded}, nil
}

// searchVector 嵌入问题后做向量检索，并应用相似度下限。
func (r *HybridRetriever) searchVector(ctx context.Context, scope store.Scope, question string, fetchK int) ([]store.VectorHit, error) {
	embedding, err := r.embedProvider.EmbedSingle(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("问题嵌入失败: %w", err)
	}

	hits, err := r.vectors.Search(ctx, scope, embedding, fetchK)
	if err != nil {
		return nil, err
	}

	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= r.config.SimilarityFloor {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// fuse 倒数排名融合：每个后端列表里排名 r（从 1 起）的块贡献
// 1/(r+K)，融合得分为各列表贡献之和。得分并列时先比单后端最高
// 得分，再比 chunk ID，保证结果确定。
func (r *HybridRetriever) fuse(vectorHits []store.VectorHit, keywordHits []store.KeywordHit) []*Candidate {
	k := float64(r.config.RRFK)
	byID := make(map[string]*Candidate)

	for rank, hit := range vectorHits {
		byID[hit.ChunkID] = &Candidate{
			ChunkID:         hit.ChunkID,
			DocumentID:      hit.DocumentID,
			Score:           1.0 / (float64(rank+1) + k),
			BestSourceScore: hit.Score,
			Method:          model.RetrievalMethodVector,
		}
	}

	for rank, hit := range keywordHits {
		contribution := 1.0 / (float64(rank+1) + k)
		if c, ok := byID[hit.ChunkID]; ok {
			c.Score += contribution
			if hit.Score > c.BestSourceScore {
				c.BestSourceScore = hit.Score
			}
			c.Method = model.RetrievalMethodFused
			continue
		}
		byID[hit.ChunkID] = &Candidate{
			ChunkID:         hit.ChunkID,
			DocumentID:      hit.DocumentID,
			Score:           contribution,
			BestSourceScore: hit.Score,
			Method:          model.RetrievalMethodKeyword,
		}
	}

	candidates := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.BestSourceScore != b.BestSourceScore {
			return a.BestSourceScore > b.BestSourceScore
		}
		return a.ChunkID < b.ChunkID
	})
	return candidates
}

// hydrate 从关系库补全候选的正文内容。已被删除的块从候选中剔除。
func (r *HybridRetriever) hydrate(ctx context.Context, tenantID string, candidates []*Candidate) ([]*Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}

	rows, err := r.chunks.GetBatch(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("补全候选内容失败: %w", err)
	}

	byID := make(map[string]*model.Chunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	kept := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		row, ok := byID[c.ChunkID]
		if !ok {
			logger.Debugw("候选块已不存在，剔除", "chunk_id", c.ChunkID)
			continue
		}
		c.Content = row.Content
		if c.DocumentID == "" {
			c.DocumentID = row.DocumentID
		}
		kept = append(kept, c)
	}
	return kept, nil
}

package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/internal/pkg/rag/textutil"
	"github.com/documind-io/documind/pkg/llm"
	"github.com/documind-io/documind/pkg/llm/resilience"
)

// 摄取默认参数。
const (
	DefaultEmbedBatchSize = 16
	DefaultIngestWorkers  = 4
)

// IngestorConfig 摄取器配置。
type IngestorConfig struct {
	// ChunkSize / Overlap 分块参数，请求可逐次覆盖。
	ChunkSize int
	Overlap   int
	// EmbedBatchSize 单次嵌入调用的文本条数。
	EmbedBatchSize int
	// Workers 嵌入批次的并发度。
	Workers int
	// Retry 批次失败后逐块重试的退避策略。
	Retry *resilience.RetryConfig
}

// Complete 填充缺省值。
func (c *IngestorConfig) Complete() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Overlap <= 0 {
		c.Overlap = DefaultChunkOverlap
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultIngestWorkers
	}
	if c.Retry == nil {
		c.Retry = resilience.DefaultRetryConfig()
	}
}

// IngestOptions 单次摄取请求的可选覆盖项。
type IngestOptions struct {
	Title     string
	Source    string
	ChunkSize int
	Overlap   int
	// Tags 自由标签，写到本次摄取生成的每个块上。
	Tags []string
}

// Ingestor 负责文档摄取：分块、嵌入、写入关系库与向量库。
//
// 同一文档的摄取按文档串行（按 租户+文档 加锁），并发重复摄取
// 不会交错出两套块集合。重复摄取在单个事务内替换旧块：
// 删旧块与写新块要么都生效，要么都回滚。嵌入失败的块保持
// 未嵌入状态入库，只参与关键词检索，不使整次摄取失败。
type Ingestor struct {
	factory       store.Factory
	vectors       store.VectorStore
	embedProvider llm.EmbeddingProvider
	config        *IngestorConfig
	pool          *ants.Pool

	// 按文档互斥。条目只增不减，文档数量级下可接受。
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestor 创建摄取器。pool 为空时嵌入批次串行执行。
func NewIngestor(
	factory store.Factory,
	vectors store.VectorStore,
	embedProvider llm.EmbeddingProvider,
	pool *ants.Pool,
	config *IngestorConfig,
) *Ingestor {
	if config == nil {
		config = &IngestorConfig{}
	}
	config.Complete()
	return &Ingestor{
		factory:       factory,
		vectors:       vectors,
		embedProvider: embedProvider,
		config:        config,
		pool:          pool,
		locks:         make(map[string]*sync.Mutex),
	}
}

// docLock 返回 租户+文档 维度的互斥锁。
func (ing *Ingestor) docLock(tenantID, documentID string) *sync.Mutex {
	key := tenantID + "|" + documentID
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if l, ok := ing.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	ing.locks[key] = l
	return l
}

// IngestDocument 摄取一篇文档。空白文本返回 ErrEmptyInput。
func (ing *Ingestor) IngestDocument(ctx context.Context, tenantID, documentID, text string, opts IngestOptions) (*model.IngestResult, error) {
	if tenantID == "" || documentID == "" {
		return nil, fmt.Errorf("缺少租户或文档 ID")
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ing.config.ChunkSize
	}
	overlap := opts.Overlap
	if overlap <= 0 {
		overlap = ing.config.Overlap
	}

	chunker, err := NewChunker(ChunkerConfig{ChunkSize: chunkSize, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	pieces, err := chunker.Split(text)
	if err != nil {
		return nil, err
	}

	lock := ing.docLock(tenantID, documentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := ing.factory.Documents().Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	replaced := existing != nil

	tags := strings.Join(opts.Tags, ",")
	rows := make([]*model.Chunk, len(pieces))
	for i, p := range pieces {
		rows[i] = &model.Chunk{
			ID:                ulid.Make().String(),
			TenantID:          tenantID,
			DocumentID:        documentID,
			Seq:               p.Seq,
			Kind:              model.ChunkKindText,
			Content:           p.Content,
			ContentHash:       textutil.HashString(p.Content),
			StartOffset:       p.Start,
			EndOffset:         p.End,
			Tags:              tags,
			QualityConfidence: chunkQuality(p.Content, chunkSize),
		}
	}

	doc := &model.Document{
		ID:         documentID,
		TenantID:   tenantID,
		Title:      opts.Title,
		Source:     opts.Source,
		Hash:       textutil.HashString(text),
		ChunkCount: len(rows),
		Status:     "indexed",
	}

	// 删旧块与写新块在同一事务内完成：任何一步失败整体回滚，
	// 旧块集合原样保留
	err = ing.factory.Transaction(ctx, func(tx store.Factory) error {
		if replaced {
			if _, err := tx.Chunks().DeleteByDocument(ctx, tenantID, documentID); err != nil {
				return err
			}
		}
		if err := tx.Chunks().CreateBatch(ctx, rows); err != nil {
			return err
		}
		return tx.Documents().Upsert(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	// 旧向量只在关系侧提交成功后清理。清理失败只留下游离向量，
	// 它们对应的块行已不存在，检索水合时会被过滤掉
	if replaced {
		if err := ing.vectors.DeleteByDocument(ctx, tenantID, documentID); err != nil {
			logger.Warnw("清理旧向量失败",
				"tenant_id", tenantID,
				"document_id", documentID,
				"error", err.Error(),
			)
		}
	}

	embedded := ing.embedChunks(ctx, tenantID, rows)

	logger.Infow("文档摄取完成",
		"tenant_id", tenantID,
		"document_id", documentID,
		"chunks_created", len(rows),
		"chunks_embedded", embedded,
		"replaced", replaced,
	)

	return &model.IngestResult{
		DocumentID:     documentID,
		ChunksCreated:  len(rows),
		ChunksEmbedded: embedded,
		Replaced:       replaced,
	}, nil
}

// chunkQuality 按块长相对目标块大小估计质量置信度，范围 [0,1]。
// 达到目标块长的块记满分，短尾块按比例降，下限 0.1。
func chunkQuality(content string, chunkSize int) float64 {
	if chunkSize <= 0 {
		return 1.0
	}
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n >= chunkSize {
		return 1.0
	}
	q := float64(n) / float64(chunkSize)
	if q < 0.1 {
		q = 0.1
	}
	return q
}

// embedChunks 分批并发嵌入并写入向量库，返回成功嵌入的块数。
// 嵌入失败只记日志，相应块保持未嵌入状态。
func (ing *Ingestor) embedChunks(ctx context.Context, tenantID string, rows []*model.Chunk) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	embedded := 0
	for start := 0; start < len(rows); start += ing.config.EmbedBatchSize {
		end := start + ing.config.EmbedBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		task := func() {
			defer wg.Done()
			n := ing.embedBatch(ctx, tenantID, batch)
			mu.Lock()
			embedded += n
			mu.Unlock()
		}

		wg.Add(1)
		if ing.pool != nil {
			if err := ing.pool.Submit(task); err != nil {
				// 池不可用时降级为同步执行
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()
	return embedded
}

// embedBatch 嵌入一个批次。整批失败后逐块带退避重试，
// 重试耗尽的块跳过。
func (ing *Ingestor) embedBatch(ctx context.Context, tenantID string, batch []*model.Chunk) int {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := ing.embedProvider.Embed(ctx, texts)
	if err == nil {
		return ing.storeVectors(ctx, tenantID, batch, vectors)
	}

	logger.Warnw("批量嵌入失败，逐块重试",
		"batch_size", len(batch),
		"error", err.Error(),
	)

	embedded := 0
	for _, c := range batch {
		chunk := c
		var vec []float32
		retryErr := resilience.RetryWithBackoff(ctx, ing.config.Retry, func() error {
			v, embedErr := ing.embedProvider.EmbedSingle(ctx, chunk.Content)
			if embedErr != nil {
				return embedErr
			}
			vec = v
			return nil
		})
		if retryErr != nil {
			embErr := &EmbeddingError{Err: retryErr}
			logger.Warnw("块嵌入重试耗尽，保持未嵌入状态",
				"chunk_id", chunk.ID,
				"error", embErr.Error(),
			)
			continue
		}
		embedded += ing.storeVectors(ctx, tenantID, []*model.Chunk{chunk}, [][]float32{vec})
	}
	return embedded
}

// storeVectors 把一组向量写入向量库并标记相应块已嵌入。
func (ing *Ingestor) storeVectors(ctx context.Context, tenantID string, batch []*model.Chunk, vectors [][]float32) int {
	embeddedChunks := make([]store.EmbeddedChunk, len(batch))
	ids := make([]string, len(batch))
	for i, c := range batch {
		embeddedChunks[i] = store.EmbeddedChunk{
			ChunkID:    c.ID,
			TenantID:   tenantID,
			DocumentID: c.DocumentID,
			Embedding:  vectors[i],
		}
		ids[i] = c.ID
	}

	if err := ing.vectors.Upsert(ctx, embeddedChunks); err != nil {
		logger.Warnw("向量写入失败，相应块保持未嵌入", "count", len(batch), "error", err.Error())
		return 0
	}
	if err := ing.factory.Chunks().MarkEmbedded(ctx, tenantID, ids, ing.embedProvider.Name()); err != nil {
		logger.Warnw("标记嵌入状态失败", "error", err.Error())
	}
	return len(batch)
}

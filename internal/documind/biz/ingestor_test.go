package biz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/documind-io/documind/internal/documind/store"
	"github.com/documind-io/documind/internal/model"
	"github.com/documind-io/documind/pkg/llm/resilience"
)

// faultyChunkFactory 包装真实工厂，按开关让 CreateBatch 失败，
// 事务内拿到的工厂同样生效。
type faultyChunkFactory struct {
	store.Factory
	failCreate *bool
}

func (f *faultyChunkFactory) Chunks() store.ChunkStore {
	return &faultyChunkStore{ChunkStore: f.Factory.Chunks(), failCreate: f.failCreate}
}

func (f *faultyChunkFactory) Transaction(ctx context.Context, fn func(tx store.Factory) error) error {
	return f.Factory.Transaction(ctx, func(tx store.Factory) error {
		return fn(&faultyChunkFactory{Factory: tx, failCreate: f.failCreate})
	})
}

type faultyChunkStore struct {
	store.ChunkStore
	failCreate *bool
}

func (s *faultyChunkStore) CreateBatch(ctx context.Context, batch []*model.Chunk) error {
	if *s.failCreate {
		return errors.New("写入中断")
	}
	return s.ChunkStore.CreateBatch(ctx, batch)
}

type ingestorFixture struct {
	ingestor *Ingestor
	factory  store.Factory
	vectors  *mockVectorStore
	embed    *mockEmbedProvider
}

func newIngestorFixture(t *testing.T) *ingestorFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	factory, err := store.NewSQLFactory(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	vectors := &mockVectorStore{}
	embed := &mockEmbedProvider{}
	ingestor := NewIngestor(factory, vectors, embed, nil, &IngestorConfig{
		ChunkSize:      100,
		Overlap:        20,
		EmbedBatchSize: 4,
		Retry: &resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	})
	return &ingestorFixture{ingestor: ingestor, factory: factory, vectors: vectors, embed: embed}
}

func TestIngestorRejectsEmptyInput(t *testing.T) {
	f := newIngestorFixture(t)

	for _, text := range []string{"", "   \n\t"} {
		_, err := f.ingestor.IngestDocument(context.Background(), "tenant-a", "doc-1", text, IngestOptions{})
		assert.ErrorIs(t, err, ErrEmptyInput)
	}

	_, err := f.ingestor.IngestDocument(context.Background(), "", "doc-1", "text", IngestOptions{})
	assert.Error(t, err, "缺少租户")
}

func TestIngestorCreatesChunksAndVectors(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()
	text := strings.Repeat("alpha beta gamma delta ", 20) // ~460 字符

	result, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1", text, IngestOptions{Title: "测试文档"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Greater(t, result.ChunksCreated, 1)
	assert.Equal(t, result.ChunksCreated, result.ChunksEmbedded)
	assert.False(t, result.Replaced)

	// 文档行就位
	doc, err := f.factory.Documents().Get(ctx, "tenant-a", "doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "测试文档", doc.Title)
	assert.Equal(t, result.ChunksCreated, doc.ChunkCount)
	assert.Equal(t, "indexed", doc.Status)

	// 块行就位且全部标记已嵌入
	count, err := f.factory.Chunks().CountByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(result.ChunksCreated), count)

	// 向量写入与块数一致
	total := 0
	for _, batch := range f.vectors.upserted {
		total += len(batch)
	}
	assert.Equal(t, result.ChunksCreated, total)
}

func TestIngestorReplacesExistingDocument(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	first, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("first version text ", 20), IngestOptions{})
	require.NoError(t, err)

	deleted := false
	f.vectors.deleteFn = func(ctx context.Context, tenantID, documentID string) error {
		deleted = true
		assert.Equal(t, "doc-1", documentID)
		return nil
	}

	second, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("second version entirely different ", 10), IngestOptions{})
	require.NoError(t, err)

	assert.True(t, second.Replaced)
	assert.True(t, deleted, "重复摄取必须清理旧向量")

	// 只剩新块集合
	count, err := f.factory.Chunks().CountByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(second.ChunksCreated), count)
	_ = first
}

func TestIngestorReingestFailureKeepsOldChunks(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	failCreate := false
	faulty := &faultyChunkFactory{Factory: f.factory, failCreate: &failCreate}
	ingestor := NewIngestor(faulty, f.vectors, f.embed, nil, &IngestorConfig{
		ChunkSize: 100,
		Overlap:   20,
	})

	first, err := ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("first version text ", 20), IngestOptions{})
	require.NoError(t, err)

	vectorDeletes := 0
	f.vectors.deleteFn = func(ctx context.Context, tenantID, documentID string) error {
		vectorDeletes++
		return nil
	}

	// 第二次摄取在写新块时失败：事务回滚，旧块集合原样保留
	failCreate = true
	_, err = ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("second version entirely different ", 10), IngestOptions{})
	require.Error(t, err)

	count, err := f.factory.Chunks().CountByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(first.ChunksCreated), count, "重复摄取失败不得丢失旧块集合")
	assert.Zero(t, vectorDeletes, "事务提交前不得清理旧向量")

	// 故障恢复后正常替换
	failCreate = false
	second, err := ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("second version entirely different ", 10), IngestOptions{})
	require.NoError(t, err)
	assert.True(t, second.Replaced)
	assert.Equal(t, 1, vectorDeletes)

	count, err = f.factory.Chunks().CountByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(second.ChunksCreated), count)
}

func TestIngestorAppliesTagsAndQuality(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("alpha beta gamma delta ", 20),
		IngestOptions{Tags: []string{"faq", "v2"}})
	require.NoError(t, err)
	require.Greater(t, result.ChunksCreated, 1)

	for _, batch := range f.vectors.upserted {
		for _, ec := range batch {
			chunk, err := f.factory.Chunks().Get(ctx, "tenant-a", ec.ChunkID)
			require.NoError(t, err)
			require.NotNil(t, chunk)
			assert.Equal(t, "faq,v2", chunk.Tags)
			assert.Greater(t, chunk.QualityConfidence, 0.0)
			assert.LessOrEqual(t, chunk.QualityConfidence, 1.0)
			if chunk.Seq < result.ChunksCreated-1 {
				assert.Greater(t, chunk.QualityConfidence, 0.5, "接近目标块长的块置信度应当较高")
			}
		}
	}
}

func TestIngestorMarksUnembeddedOnFailure(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	// 批量与逐块嵌入全部失败
	f.embed.embedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedder down")
	}
	f.embed.embedSingleFn = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedder down")
	}

	result, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
		strings.Repeat("some text here ", 20), IngestOptions{})
	require.NoError(t, err, "嵌入失败不应使整次摄取失败")

	assert.Greater(t, result.ChunksCreated, 0)
	assert.Equal(t, 0, result.ChunksEmbedded)

	// 块仍然入库，保持未嵌入状态
	count, err := f.factory.Chunks().CountByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(result.ChunksCreated), count)
}

func TestIngestorSerializesSameDocument(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	// 嵌入期间持锁：并发摄取同一文档必须串行，块集合不交错
	var inFlight, maxInFlight int32
	var mu sync.Mutex
	f.embed.embedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()

		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1}
		}
		return out, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ingestor.IngestDocument(ctx, "tenant-a", "doc-1",
				strings.Repeat("concurrent ingest text ", 10), IngestOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, int32(1), "同一文档的摄取必须串行")
}

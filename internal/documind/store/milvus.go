package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/documind-io/documind/internal/pkg/rag/textutil"
	"github.com/documind-io/documind/pkg/component/milvus"
)

const (
	defaultCollectionName = "documind_chunks"

	chunkIDMaxLen  = 64
	tenantIDMaxLen = 128
	docIDMaxLen    = 128
)

// MilvusStore 基于 Milvus 的向量存储实现。chunk ID 作为外部主键，
// 租户与文档 ID 以标量字段存入，检索时用过滤表达式隔离。
type MilvusStore struct {
	client     *milvus.Client
	collection string
}

var _ VectorStore = (*MilvusStore)(nil)

// NewMilvusStore 创建向量存储。collection 为空时使用默认集合名。
func NewMilvusStore(client *milvus.Client, collection string) *MilvusStore {
	if collection == "" {
		collection = defaultCollectionName
	}
	return &MilvusStore{
		client:     client,
		collection: collection,
	}
}

// EnsureCollection 幂等地创建并加载集合。
func (s *MilvusStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("向量维度无效: %d", dimension)
	}

	schema := &milvus.CollectionSchema{
		Name:        s.collection,
		Description: "document chunk embeddings",
		Dimension:   dimension,
		PKName:      "chunk_id",
		PKMaxLen:    chunkIDMaxLen,
		MetaFields: []milvus.MetaField{
			{Name: "tenant_id", DataType: entity.FieldTypeVarChar, MaxLen: tenantIDMaxLen},
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: docIDMaxLen},
		},
	}

	if err := s.client.EnsureCollection(ctx, schema); err != nil {
		return fmt.Errorf("初始化集合失败: %w", err)
	}

	logger.Infow("Milvus collection ready", "collection", s.collection, "dimension", dimension)
	return nil
}

// Upsert 先删后插，保证同一 chunk ID 只有一份向量。
func (s *MilvusStore) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	tenantIDs := make([]any, len(chunks))
	docIDs := make([]any, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
		embeddings[i] = c.Embedding
		tenantIDs[i] = c.TenantID
		docIDs[i] = c.DocumentID
	}

	expr := fmt.Sprintf("chunk_id in [%s]", quoteList(ids))
	if err := s.client.DeleteByExpr(ctx, s.collection, expr); err != nil {
		return fmt.Errorf("清理旧向量失败: %w", err)
	}

	data := &milvus.InsertData{
		IDs:        ids,
		Embeddings: embeddings,
		Metadata: map[string][]any{
			"tenant_id":   tenantIDs,
			"document_id": docIDs,
		},
	}
	if err := s.client.Insert(ctx, s.collection, "chunk_id", data); err != nil {
		return fmt.Errorf("写入向量失败: %w", err)
	}

	return nil
}

// DeleteByDocument 删除某租户某文档的全部向量。
func (s *MilvusStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	expr := fmt.Sprintf("tenant_id == %s && document_id == %s",
		quoteExpr(tenantID), quoteExpr(documentID))
	if err := s.client.DeleteByExpr(ctx, s.collection, expr); err != nil {
		return fmt.Errorf("删除文档向量失败: %w", err)
	}
	return nil
}

// Search 在 scope 内做近邻检索。Milvus 的 COSINE 得分落在 [-1,1]，
// 这里归一化到 [0,1] 再返回。
func (s *MilvusStore) Search(ctx context.Context, scope Scope, embedding []float32, topK int) ([]VectorHit, error) {
	if scope.TenantID == "" {
		return nil, fmt.Errorf("检索范围缺少租户")
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}

	expr := s.scopeExpr(scope)
	results, err := s.client.SearchWithFilter(ctx, s.collection, embedding, topK, expr,
		[]string{"document_id"})
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		hit := VectorHit{
			ChunkID: r.ID,
			Score:   textutil.NormalizeCosineSimilarity(float64(r.Score)),
		}
		if docID, ok := r.Metadata["document_id"].(string); ok {
			hit.DocumentID = docID
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count 返回集合行数。
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	return s.client.GetCollectionStats(ctx, s.collection)
}

// Close 关闭底层连接。
func (s *MilvusStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.client.Close(ctx)
}

func (s *MilvusStore) scopeExpr(scope Scope) string {
	expr := fmt.Sprintf("tenant_id == %s", quoteExpr(scope.TenantID))
	if len(scope.DocumentIDs) > 0 {
		expr += fmt.Sprintf(" && document_id in [%s]", quoteList(scope.DocumentIDs))
	}
	return expr
}

// quoteExpr 把字符串包装成 Milvus 过滤表达式的字面量，
// 转义反斜杠与引号，防止表达式注入。
func quoteExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteExpr(v)
	}
	return strings.Join(quoted, ", ")
}

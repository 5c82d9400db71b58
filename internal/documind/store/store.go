package store

import (
	"context"

	"github.com/documind-io/documind/internal/model"
)

// Scope 限定一次检索的可见范围。TenantID 必填；
// DocumentIDs 非空时检索只命中列出的文档。
type Scope struct {
	TenantID    string
	DocumentIDs []string
}

// VectorHit 向量检索的单条命中，Score 为归一化后的余弦相似度。
type VectorHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// KeywordHit 关键词检索的单条命中，Score 为全文检索的相关性得分。
type KeywordHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// EmbeddedChunk 写入向量库的最小单元。Embedding 维度须与集合一致。
type EmbeddedChunk struct {
	ChunkID    string
	TenantID   string
	DocumentID string
	Embedding  []float32
}

// VectorStore 向量检索后端。
type VectorStore interface {
	// EnsureCollection 幂等地建集合并加载，dimension 为向量维度。
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert 批量写入向量，chunk ID 作为主键。
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error

	// DeleteByDocument 删除某租户某文档的全部向量。
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error

	// Search 在 scope 内做近邻检索，按相似度降序返回至多 topK 条。
	Search(ctx context.Context, scope Scope, embedding []float32, topK int) ([]VectorHit, error)

	// Count 返回集合当前行数。
	Count(ctx context.Context) (int64, error)

	Close() error
}

// KeywordIndex 关键词检索后端。
type KeywordIndex interface {
	// Search 在 scope 内做全文检索，按相关性降序返回至多 topK 条。
	// 查询词没有命中时返回空切片而非错误。
	Search(ctx context.Context, scope Scope, query string, topK int) ([]KeywordHit, error)
}

// DocumentStore 文档元数据存取。
type DocumentStore interface {
	Upsert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, tenantID, documentID string) (*model.Document, error)
	Delete(ctx context.Context, tenantID, documentID string) error
	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}

// ChunkStore 文档块存取。
type ChunkStore interface {
	// CreateBatch 批量写入文档块。
	CreateBatch(ctx context.Context, chunks []*model.Chunk) error

	// DeleteByDocument 删除某租户某文档的全部文档块，返回删除行数。
	DeleteByDocument(ctx context.Context, tenantID, documentID string) (int64, error)

	// Get 按 ID 取单个文档块，越权访问视同不存在。
	Get(ctx context.Context, tenantID, chunkID string) (*model.Chunk, error)

	// GetBatch 按 ID 批量取文档块，结果保持入参顺序，缺失的 ID 被跳过。
	GetBatch(ctx context.Context, tenantID string, chunkIDs []string) ([]*model.Chunk, error)

	// MarkEmbedded 标记文档块已写入向量库。
	MarkEmbedded(ctx context.Context, tenantID string, chunkIDs []string, embeddingModel string) error

	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}

// AnswerStore 答案与引用的存取。Create 依赖 (tenant_id, run_hash)
// 唯一约束做幂等写入。
type AnswerStore interface {
	// Create 持久化答案及其引用。命中唯一约束时返回 ErrDuplicateAnswer。
	Create(ctx context.Context, answer *model.Answer) error

	// Get 按 ID 取答案，级联加载引用。
	Get(ctx context.Context, tenantID, answerID string) (*model.Answer, error)

	// FindByRunHash 按运行哈希查找已有答案，未找到返回 (nil, nil)。
	FindByRunHash(ctx context.Context, tenantID, runHash string) (*model.Answer, error)
}

// Factory 聚合关系存储侧的各个仓库。
type Factory interface {
	Documents() DocumentStore
	Chunks() ChunkStore
	Answers() AnswerStore
	Keyword() KeywordIndex

	// Transaction 在单个事务内执行 fn，fn 拿到的工厂绑定事务连接，
	// fn 返回错误时整体回滚。
	Transaction(ctx context.Context, fn func(tx Factory) error) error

	Close() error
}

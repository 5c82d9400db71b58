package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/documind-io/documind/internal/model"
)

// createBatchSize 批量插入的单批行数上限。
const createBatchSize = 200

// chunks ChunkStore 的 GORM 实现。
type chunks struct {
	db *gorm.DB
}

var _ ChunkStore = (*chunks)(nil)

// CreateBatch 分批写入文档块。
func (r *chunks) CreateBatch(ctx context.Context, batch []*model.Chunk) error {
	if len(batch) == 0 {
		return nil
	}
	for _, c := range batch {
		if c.ID == "" || c.TenantID == "" || c.DocumentID == "" {
			return fmt.Errorf("文档块缺少 ID、租户或文档: seq=%d", c.Seq)
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(batch, createBatchSize).Error; err != nil {
		return fmt.Errorf("批量写入文档块失败: %w", err)
	}
	return nil
}

// DeleteByDocument 删除某租户某文档的全部文档块。
func (r *chunks) DeleteByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Delete(&model.Chunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除文档块失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Get 按 ID 取单个文档块。其他租户的块视同不存在，返回 (nil, nil)。
func (r *chunks) Get(ctx context.Context, tenantID, chunkID string) (*model.Chunk, error) {
	var chunk model.Chunk
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, chunkID).
		First(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档块失败: %w", err)
	}
	return &chunk, nil
}

// GetBatch 批量取文档块。结果保持入参顺序，缺失或越权的 ID 被跳过。
func (r *chunks) GetBatch(ctx context.Context, tenantID string, chunkIDs []string) ([]*model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return []*model.Chunk{}, nil
	}

	var rows []*model.Chunk
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, chunkIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询文档块失败: %w", err)
	}

	byID := make(map[string]*model.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	ordered := make([]*model.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// MarkEmbedded 标记文档块已写入向量库并记录嵌入模型。
func (r *chunks) MarkEmbedded(ctx context.Context, tenantID string, chunkIDs []string, embeddingModel string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("tenant_id = ? AND id IN ?", tenantID, chunkIDs).
		Updates(map[string]any{
			"embedded":             true,
			"embedding_model":      embeddingModel,
			"embedding_updated_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("标记嵌入状态失败: %w", err)
	}
	return nil
}

func (r *chunks) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计文档块失败: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/documind-io/documind/internal/model"
)

// documents DocumentStore 的 GORM 实现。
type documents struct {
	db *gorm.DB
}

var _ DocumentStore = (*documents)(nil)

// Upsert 按主键写入或更新文档元数据。
func (r *documents) Upsert(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" || doc.TenantID == "" {
		return fmt.Errorf("文档缺少 ID 或租户")
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "source", "hash", "chunk_count", "status", "updated_at",
			}),
		}).
		Create(doc).Error
	if err != nil {
		return fmt.Errorf("写入文档失败: %w", err)
	}
	return nil
}

func (r *documents) Get(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, documentID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

func (r *documents) Delete(ctx context.Context, tenantID, documentID string) error {
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, documentID).
		Delete(&model.Document{}).Error
	if err != nil {
		return fmt.Errorf("删除文档失败: %w", err)
	}
	return nil
}

func (r *documents) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计文档失败: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/documind-io/documind/internal/model"
)

// ErrDuplicateAnswer 表示同租户同运行哈希的答案已经存在。
// 调用方应改用 FindByRunHash 取回已有答案。
var ErrDuplicateAnswer = errors.New("相同运行哈希的答案已存在")

// answers AnswerStore 的 GORM 实现。
type answers struct {
	db *gorm.DB
}

var _ AnswerStore = (*answers)(nil)

// Create 持久化答案及其引用。答案与引用在同一事务内写入，
// (tenant_id, run_hash) 冲突时返回 ErrDuplicateAnswer。
func (r *answers) Create(ctx context.Context, answer *model.Answer) error {
	if answer.ID == "" || answer.TenantID == "" || answer.RunHash == "" {
		return fmt.Errorf("答案缺少 ID、租户或运行哈希")
	}
	answer.CitationCount = len(answer.Citations)

	err := r.db.WithContext(ctx).Create(answer).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAnswer
		}
		return fmt.Errorf("写入答案失败: %w", err)
	}
	return nil
}

// Get 按 ID 取答案并级联加载引用，未找到返回 (nil, nil)。
func (r *answers) Get(ctx context.Context, tenantID, answerID string) (*model.Answer, error) {
	var answer model.Answer
	err := r.db.WithContext(ctx).
		Preload("Citations").
		Where("tenant_id = ? AND id = ?", tenantID, answerID).
		First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询答案失败: %w", err)
	}
	return &answer, nil
}

// FindByRunHash 按运行哈希查找答案，未找到返回 (nil, nil)。
func (r *answers) FindByRunHash(ctx context.Context, tenantID, runHash string) (*model.Answer, error) {
	var answer model.Answer
	err := r.db.WithContext(ctx).
		Preload("Citations").
		Where("tenant_id = ? AND run_hash = ?", tenantID, runHash).
		First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("按运行哈希查询答案失败: %w", err)
	}
	return &answer, nil
}

// isUniqueViolation 识别唯一约束冲突。GORM 跨方言没有统一错误，
// 这里兼容 PostgreSQL (23505) 与 SQLite 的报错文本。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

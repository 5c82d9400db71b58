package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/documind-io/documind/internal/pkg/rag/textutil"
)

// keywordIndex 基于 rag_chunks 表的关键词检索。PostgreSQL 走全文
// 检索（to_tsvector/ts_rank），其他方言（测试用 SQLite）退化为
// LIKE 词项匹配，按命中词数计分。
type keywordIndex struct {
	db *gorm.DB
}

var _ KeywordIndex = (*keywordIndex)(nil)

// keywordRow 检索结果的扫描目标。
type keywordRow struct {
	ID         string
	DocumentID string
	Score      float64
}

// Search 在 scope 内做关键词检索。相同得分按 chunk ID 升序，
// 保证结果可复现。
func (k *keywordIndex) Search(ctx context.Context, scope Scope, query string, topK int) ([]KeywordHit, error) {
	if scope.TenantID == "" {
		return nil, fmt.Errorf("检索范围缺少租户")
	}
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return []KeywordHit{}, nil
	}

	var rows []keywordRow
	var err error
	if k.db.Dialector.Name() == "postgres" {
		rows, err = k.searchFullText(ctx, scope, query, topK)
	} else {
		rows, err = k.searchLike(ctx, scope, query, topK)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]KeywordHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, KeywordHit{
			ChunkID:    row.ID,
			DocumentID: row.DocumentID,
			Score:      row.Score,
		})
	}
	return hits, nil
}

func (k *keywordIndex) searchFullText(ctx context.Context, scope Scope, query string, topK int) ([]keywordRow, error) {
	sql := `
		SELECT id, document_id,
		       ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', ?)) AS score
		FROM rag_chunks
		WHERE tenant_id = ?
		  AND to_tsvector('simple', content) @@ plainto_tsquery('simple', ?)`
	args := []any{query, scope.TenantID, query}

	if len(scope.DocumentIDs) > 0 {
		sql += " AND document_id IN ?"
		args = append(args, scope.DocumentIDs)
	}
	sql += " ORDER BY score DESC, id ASC LIMIT ?"
	args = append(args, topK)

	var rows []keywordRow
	if err := k.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("全文检索失败: %w", err)
	}
	return rows, nil
}

// searchLike 逐词 LIKE 匹配，得分为命中的不同词项数占查询词项数的比例。
func (k *keywordIndex) searchLike(ctx context.Context, scope Scope, query string, topK int) ([]keywordRow, error) {
	terms := textutil.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(terms))
	unique := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	// 每个词项命中计 1 分，整体用 CASE WHEN 求和。
	// 词项只含字母数字与汉字，无需转义 LIKE 通配符。
	scoreParts := make([]string, len(unique))
	args := make([]any, 0, len(unique)+3)
	for i, t := range unique {
		scoreParts[i] = "(CASE WHEN lower(content) LIKE ? THEN 1 ELSE 0 END)"
		args = append(args, "%"+t+"%")
	}

	sql := fmt.Sprintf(`
		SELECT id, document_id,
		       (%s) * 1.0 / %d AS score
		FROM rag_chunks
		WHERE tenant_id = ?`, strings.Join(scoreParts, " + "), len(unique))
	args = append(args, scope.TenantID)

	if len(scope.DocumentIDs) > 0 {
		sql += " AND document_id IN ?"
		args = append(args, scope.DocumentIDs)
	}
	sql += " ORDER BY score DESC, id ASC LIMIT ?"
	args = append(args, topK)

	var rows []keywordRow
	if err := k.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("关键词检索失败: %w", err)
	}

	filtered := rows[:0]
	for _, row := range rows {
		if row.Score > 0 {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

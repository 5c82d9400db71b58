package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/documind-io/documind/internal/model"
)

const closeTimeout = 5 * time.Second

// datastore 基于 GORM 的关系存储工厂，PostgreSQL 与测试用的
// SQLite 共用同一套仓库实现。
type datastore struct {
	db *gorm.DB
}

var _ Factory = (*datastore)(nil)

// NewSQLFactory 用已建立的 GORM 连接创建存储工厂。
func NewSQLFactory(db *gorm.DB) (Factory, error) {
	if db == nil {
		return nil, fmt.Errorf("数据库连接为空")
	}
	return &datastore{db: db}, nil
}

// AutoMigrate 建表。列级索引与唯一约束由模型标签声明。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.Answer{},
		&model.Citation{},
	)
}

func (ds *datastore) Documents() DocumentStore {
	return &documents{db: ds.db}
}

func (ds *datastore) Chunks() ChunkStore {
	return &chunks{db: ds.db}
}

func (ds *datastore) Answers() AnswerStore {
	return &answers{db: ds.db}
}

func (ds *datastore) Keyword() KeywordIndex {
	return &keywordIndex{db: ds.db}
}

func (ds *datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction 在单个事务内执行 fn，fn 返回错误时整体回滚。
func (ds *datastore) Transaction(ctx context.Context, fn func(tx Factory) error) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&datastore{db: tx})
	})
}

// Package store 提供问答服务的数据存储层。
//
// 关系存储（PostgreSQL/GORM）保存文档、文档块、答案与引用，
// 并承担关键词全文检索；向量存储（Milvus）只保存文档块向量，
// 两边通过相同的 chunk ID 关联。所有读写均按租户隔离。
package store

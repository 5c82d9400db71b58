// Package model provides data models for the DocuMind platform.
package model

import (
	"time"
)

// ChunkKind classifies where a chunk's text came from in the source document.
type ChunkKind string

const (
	ChunkKindText   ChunkKind = "text"
	ChunkKindTable  ChunkKind = "table"
	ChunkKindImage  ChunkKind = "image"
	ChunkKindHeader ChunkKind = "header"
	ChunkKindFooter ChunkKind = "footer"
)

// Document represents an ingested document scoped to a tenant.
type Document struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	TenantID   string    `json:"tenant_id" gorm:"type:varchar(64);index:idx_doc_tenant;not null"`
	Title      string    `json:"title" gorm:"type:varchar(255)"`
	Source     string    `json:"source" gorm:"type:varchar(512)"` // File path or URL
	Hash       string    `json:"hash" gorm:"type:varchar(64);index"`
	ChunkCount int       `json:"chunk_count" gorm:"default:0"`
	Status     string    `json:"status" gorm:"type:varchar(32);default:'pending'"` // pending, indexed, failed
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Chunk represents a contiguous slice of document text. Offsets are rune
// offsets into the original document, end exclusive. The row doubles as the
// keyword-search index entry; the vector for the chunk lives in Milvus under
// the same ID.
type Chunk struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	TenantID    string    `json:"tenant_id" gorm:"type:varchar(64);index:idx_chunk_tenant;not null"`
	DocumentID  string    `json:"document_id" gorm:"type:varchar(64);index:idx_chunk_doc;not null"`
	Seq         int       `json:"seq" gorm:"default:0"` // Position within the document
	Kind        ChunkKind `json:"kind" gorm:"type:varchar(16);default:'text'"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64);index"`
	StartOffset int       `json:"start_offset" gorm:"default:0"`
	EndOffset   int       `json:"end_offset" gorm:"default:0"`
	PageNumber  int       `json:"page_number,omitempty" gorm:"default:0"`
	Section     string    `json:"section,omitempty" gorm:"type:varchar(255)"`

	// Tags holds free-form comma-separated labels attached at ingest time.
	Tags string `json:"tags,omitempty" gorm:"type:varchar(512)"`
	// QualityConfidence estimates how usable the chunk is as retrieval
	// context, in [0,1]. Short tail chunks score lower.
	QualityConfidence float64 `json:"quality_confidence" gorm:"default:0"`

	// Embedding bookkeeping. A chunk with Embedded=false is still visible to
	// keyword search but never to vector search.
	Embedded           bool       `json:"embedded" gorm:"default:false"`
	EmbeddingModel     string     `json:"embedding_model,omitempty" gorm:"type:varchar(100)"`
	EmbeddingUpdatedAt *time.Time `json:"embedding_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "rag_chunks"
}

// RetrievalMethod identifies which retrieval backend produced a hit.
type RetrievalMethod string

const (
	RetrievalMethodVector  RetrievalMethod = "vector"
	RetrievalMethodKeyword RetrievalMethod = "keyword"
	RetrievalMethodFused   RetrievalMethod = "fused"
)

// ChunkHit is a retrieval result returned to API callers.
type ChunkHit struct {
	ChunkID    string          `json:"chunk_id"`
	DocumentID string          `json:"document_id"`
	Content    string          `json:"content"`
	Score      float64         `json:"score"`
	Method     RetrievalMethod `json:"method"`
}

// SearchChunksResult is the outcome of a standalone retrieval request.
type SearchChunksResult struct {
	Hits     []*ChunkHit `json:"hits"`
	Degraded bool        `json:"degraded"` // True when one retrieval backend was unavailable
}

// IngestResult summarizes a document ingestion run.
type IngestResult struct {
	DocumentID     string `json:"document_id"`
	ChunksCreated  int    `json:"chunks_created"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	Replaced       bool   `json:"replaced"` // True when an earlier version of the document was replaced
}

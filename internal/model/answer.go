package model

import (
	"time"
)

// CitationKind classifies how strongly an answer leans on a cited chunk.
type CitationKind string

const (
	// CitationKindDirect marks a near-verbatim quote of the chunk.
	CitationKindDirect CitationKind = "direct"
	// CitationKindIndirect marks paraphrased use of the chunk.
	CitationKindIndirect CitationKind = "indirect"
	// CitationKindReference marks background support without textual reuse.
	CitationKindReference CitationKind = "reference"
)

// Answer is a persisted, generated answer together with its provenance.
// RunHash is the dedup key over (tenant, question, context chunk set); it is
// unique per tenant so re-asking an identical question over identical context
// returns the stored row instead of generating again.
type Answer struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	TenantID  string `json:"tenant_id" gorm:"type:varchar(64);uniqueIndex:uk_answer_run,priority:1;not null"`
	UserID    string `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	SessionID string `json:"session_id,omitempty" gorm:"type:varchar(64);index"`

	Question   string `json:"question" gorm:"type:text;not null"`
	AnswerText string `json:"answer_text" gorm:"type:text;not null"`
	ModelUsed  string `json:"model_used" gorm:"type:varchar(100)"`

	RunHash    string `json:"run_hash" gorm:"type:varchar(64);uniqueIndex:uk_answer_run,priority:2;not null"`
	AnswerHash string `json:"answer_hash" gorm:"type:varchar(64);index"`

	// ContextChunkIDs is the comma-joined ordered list of chunk IDs that
	// formed the generation context.
	ContextChunkIDs string `json:"context_chunk_ids" gorm:"type:text"`

	Confidence    float64 `json:"confidence" gorm:"default:0"`
	CitationCount int     `json:"citation_count" gorm:"default:0"`

	Citations []Citation `json:"citations" gorm:"foreignKey:AnswerID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Answer.
func (Answer) TableName() string {
	return "rag_answers"
}

// Citation links a span of the answer text back to a source chunk.
// SpanStart/SpanEnd are rune offsets into AnswerText, end exclusive.
type Citation struct {
	ID               string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AnswerID         string       `json:"answer_id" gorm:"type:varchar(64);index;not null"`
	SourceChunkID    string       `json:"source_chunk_id" gorm:"type:varchar(64);index;not null"`
	SourceDocumentID string       `json:"source_document_id" gorm:"type:varchar(64)"`
	SpanStart        int          `json:"span_start" gorm:"default:0"`
	SpanEnd          int          `json:"span_end" gorm:"default:0"`
	Confidence       float64      `json:"confidence" gorm:"default:0"`
	Kind             CitationKind `json:"kind" gorm:"type:varchar(16);default:'reference'"`
	CreatedAt        time.Time    `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Citation.
func (Citation) TableName() string {
	return "rag_citations"
}

// CitationView is the API representation of a citation.
type CitationView struct {
	ChunkID    string       `json:"chunk_id"`
	DocumentID string       `json:"document_id"`
	SpanStart  int          `json:"span_start"`
	SpanEnd    int          `json:"span_end"`
	Confidence float64      `json:"confidence"`
	Kind       CitationKind `json:"kind"`
}

// AskResult is the outcome of a question-answering pipeline run.
type AskResult struct {
	AnswerID      string          `json:"answer_id"`
	Question      string          `json:"question"`
	Answer        string          `json:"answer"`
	ModelUsed     string          `json:"model_used"`
	Confidence    float64         `json:"confidence"`
	LowConfidence bool            `json:"low_confidence"`
	Citations     []*CitationView `json:"citations"`
	Deduplicated  bool            `json:"deduplicated"` // Served from a previously persisted identical run
	Degraded      bool            `json:"degraded"`     // Retrieval ran on a single backend
	Cached        bool            `json:"cached"`       // Served from the answer cache
}

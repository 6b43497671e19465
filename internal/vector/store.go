package vector

import "context"

// Record is one embedded paragraph. The store is written once during
// extraction and read-only afterwards.
type Record struct {
	ParagraphID string    `json:"paragraph_id"`
	FileID      string    `json:"file_id"`
	FileName    string    `json:"file_name"`
	Page        int       `json:"page_n"`
	Index       int       `json:"idx"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding"`
}

type SearchResult struct {
	ParagraphID string
	Text        string
	Page        int
	Score       float32
}

// Store abstracts the retrieval index. Search is always scoped to a single
// file: the RAG tool must never see paragraphs from other documents.
type Store interface {
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, fileID string, query []float32, topK int) ([]SearchResult, error)
	Close() error
}

package extraction

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"github.com/ledongthuc/pdf"
)

// maxParagraphChars bounds a paragraph so it stays a useful retrieval unit
// and fits the vector store's text column.
const maxParagraphChars = 1200

// Paragraph is one retrieval unit extracted from a PDF. Immutable once
// produced.
type Paragraph struct {
	ID       string `json:"paragraph_id"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Page     int    `json:"page_n"`
	Index    int    `json:"idx"`
	Text     string `json:"text"`
}

func newParagraphID() string {
	return "par_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// ExtractParagraphs reads a PDF page by page and packs its sentences into
// paragraph records. Pages that fail to extract are skipped; a PDF that
// yields nothing returns an empty slice, not an error.
func ExtractParagraphs(path, fileID, fileName string) ([]Paragraph, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	paragraphs := make([]Paragraph, 0)
	idx := 0

	totalPages := reader.NumPage()
	for pageN := 1; pageN <= totalPages; pageN++ {
		page := reader.Page(pageN)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		sentences, err := segmentSentences(text)
		if err != nil {
			continue
		}

		for _, block := range packSentences(sentences, maxParagraphChars) {
			paragraphs = append(paragraphs, Paragraph{
				ID:       newParagraphID(),
				FileID:   fileID,
				FileName: fileName,
				Page:     pageN,
				Index:    idx,
				Text:     block,
			})
			idx++
		}
	}

	return paragraphs, nil
}

func segmentSentences(text string) ([]string, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("segmenting text: %w", err)
	}

	sentences := make([]string, 0)
	for _, s := range doc.Sentences() {
		t := strings.TrimSpace(s.Text)
		if t != "" {
			sentences = append(sentences, t)
		}
	}
	return sentences, nil
}

// packSentences joins consecutive sentences into blocks of at most limit
// characters, never splitting a sentence. A single oversized sentence
// becomes its own block.
func packSentences(sentences []string, limit int) []string {
	var blocks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s)+1 > limit {
			blocks = append(blocks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		blocks = append(blocks, current.String())
	}

	return blocks
}

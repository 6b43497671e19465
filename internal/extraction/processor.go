package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/vector"
	"github.com/rageval/harness/pkg/logger"
)

type Processor struct {
	embedder    llm.Embedder
	store       vector.Store
	concurrency int
}

func NewProcessor(embedder llm.Embedder, store vector.Store, concurrency int) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		embedder:    embedder,
		store:       store,
		concurrency: concurrency,
	}
}

// Result holds what extraction produced for the whole dataset. A file that
// failed appears in Errors and nowhere else; a file that extracted zero
// paragraphs appears in Paragraphs with an empty slice. Neither aborts the
// stage.
type Result struct {
	Paragraphs map[string][]Paragraph
	Errors     map[string]error
}

// ProcessFiles extracts, embeds and indexes every dataset file. Files run
// concurrently; the call returns only after every file reached a terminal
// outcome. rawDir and readableDir receive the per-file artifact dumps.
func (p *Processor) ProcessFiles(ctx context.Context, files []dataset.File, rawDir, readableDir string) (*Result, error) {
	for _, dir := range []string{rawDir, readableDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create artifact dir: %w", err)
		}
	}

	res := &Result{
		Paragraphs: make(map[string][]Paragraph, len(files)),
		Errors:     make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, file := range files {
		file := file
		g.Go(func() error {
			paragraphs, err := p.processFile(gctx, file, rawDir, readableDir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("File extraction failed",
					zap.String("file", file.Name),
					zap.Error(err),
				)
				res.Errors[file.Name] = err
				return nil
			}
			res.Paragraphs[file.Name] = paragraphs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Processor) processFile(ctx context.Context, file dataset.File, rawDir, readableDir string) ([]Paragraph, error) {
	logger.Info("Extracting file", zap.String("file", file.Name))

	paragraphs, err := ExtractParagraphs(file.Path, file.ID, file.Name)
	if err != nil {
		return nil, err
	}

	if len(paragraphs) == 0 {
		// Known limitation: a file can yield nothing and the run proceeds.
		// The empty artifact dump is the only trace.
		logger.Warn("No paragraphs extracted", zap.String("file", file.Name))
	}

	if err := writeArtifacts(file.Name, paragraphs, rawDir, readableDir); err != nil {
		return nil, err
	}

	if len(paragraphs) == 0 {
		return paragraphs, nil
	}

	texts := make([]string, len(paragraphs))
	for i, par := range paragraphs {
		texts[i] = par.Text
	}

	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(paragraphs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(paragraphs))
	}

	records := make([]vector.Record, len(paragraphs))
	for i, par := range paragraphs {
		records[i] = vector.Record{
			ParagraphID: par.ID,
			FileID:      par.FileID,
			FileName:    par.FileName,
			Page:        par.Page,
			Index:       par.Index,
			Text:        par.Text,
			Embedding:   embeddings[i],
		}
	}

	if err := p.store.Insert(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to insert into vector store: %w", err)
	}

	logger.Info("File extracted",
		zap.String("file", file.Name),
		zap.Int("paragraphs", len(paragraphs)),
	)

	return paragraphs, nil
}

func writeArtifacts(fileName string, paragraphs []Paragraph, rawDir, readableDir string) error {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	data, err := json.MarshalIndent(paragraphs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal paragraphs: %w", err)
	}
	if err := os.WriteFile(filepath.Join(rawDir, base+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write raw paragraphs: %w", err)
	}

	var readable strings.Builder
	for _, par := range paragraphs {
		fmt.Fprintf(&readable, "[page %d, paragraph %d]\n%s\n\n", par.Page, par.Index, par.Text)
	}
	if err := os.WriteFile(filepath.Join(readableDir, base+".txt"), []byte(readable.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write readable paragraphs: %w", err)
	}

	return nil
}

// FullText joins a file's paragraphs in extraction order. Used by golden
// answer generation, which prompts with the entire document.
func FullText(paragraphs []Paragraph) string {
	parts := make([]string, len(paragraphs))
	for i, par := range paragraphs {
		parts[i] = par.Text
	}
	return strings.Join(parts, "\n\n")
}

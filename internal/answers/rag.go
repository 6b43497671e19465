package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/vector"
	"github.com/rageval/harness/pkg/logger"
)

// RAGGenerator answers questions through the retrieval tool loop, one
// session per question, scoped to a single document.
type RAGGenerator struct {
	chat        llm.Chat
	embedder    llm.Embedder
	store       vector.Store
	model       string
	agg         *metering.Aggregator
	topK        int
	concurrency int
}

func NewRAGGenerator(chat llm.Chat, embedder llm.Embedder, store vector.Store, model string, agg *metering.Aggregator, topK, concurrency int) *RAGGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	if topK < 1 {
		topK = 10
	}
	return &RAGGenerator{
		chat:        chat,
		embedder:    embedder,
		store:       store,
		model:       model,
		agg:         agg,
		topK:        topK,
		concurrency: concurrency,
	}
}

// Generate runs every core question against the file, keyed by question ID.
// Sessions run concurrently; any failed session fails the whole call.
func (r *RAGGenerator) Generate(ctx context.Context, file dataset.File, questions []dataset.Question) (map[int]*SessionResult, error) {
	search := r.searchFor(file.ID)

	results := make(map[int]*SessionResult, len(questions))
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, q := range questions {
		q := q
		g.Go(func() error {
			session := NewSession(r.chat, r.model, r.agg, search, file.Name)
			res, err := session.Answer(gctx, q.Text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("RAG session failed",
					zap.String("file", file.Name),
					zap.Int("question_id", q.ID),
					zap.Error(err),
				)
				failures = append(failures, fmt.Errorf("question %d: %w", q.ID, err))
				return nil
			}
			results[q.ID] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	logger.Info("RAG answers generated",
		zap.String("file", file.Name),
		zap.Int("answers", len(results)),
	)

	return results, nil
}

func (r *RAGGenerator) searchFor(fileID string) SearchFunc {
	return func(ctx context.Context, query string) ([]vector.SearchResult, error) {
		embedding, err := r.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		return r.store.Search(ctx, fileID, embedding, r.topK)
	}
}

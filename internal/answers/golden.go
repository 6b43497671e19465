package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/pkg/logger"
)

const systemPrompt = `You are a helpful assistant that is utmost concise, yet precise, in its responses.
You use additional context and construct clear concise answer using that context.`

// maxDocTokens bounds the full-document prompt used for golden answers,
// estimated with the len/4 heuristic.
const maxDocTokens = 60_000

// ErrDocumentTooLarge means a file's extracted text does not fit the golden
// answer prompt budget.
var ErrDocumentTooLarge = errors.New("document exceeds golden answer token budget")

// GoldenGenerator answers questions with the entire document in context.
// Its answers are the reference the RAG answers are compared against.
type GoldenGenerator struct {
	chat        llm.Chat
	model       string
	agg         *metering.Aggregator
	concurrency int
}

func NewGoldenGenerator(chat llm.Chat, model string, agg *metering.Aggregator, concurrency int) *GoldenGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &GoldenGenerator{
		chat:        chat,
		model:       model,
		agg:         agg,
		concurrency: concurrency,
	}
}

// Generate produces one answer per core question, keyed by question ID.
// Questions run concurrently; any failed question fails the whole call.
func (g *GoldenGenerator) Generate(ctx context.Context, fileName, docText string, questions []dataset.Question) (map[int]string, error) {
	if len(docText)/4 > maxDocTokens {
		return nil, fmt.Errorf("%w: %s is estimated at %d tokens", ErrDocumentTooLarge, fileName, len(docText)/4)
	}

	answers := make(map[int]string, len(questions))
	var mu sync.Mutex
	var failures []error

	g1, gctx := errgroup.WithContext(ctx)
	g1.SetLimit(g.concurrency)

	for _, q := range questions {
		q := q
		g1.Go(func() error {
			answer, err := g.answerOne(gctx, docText, q.Text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Golden answer failed",
					zap.String("file", fileName),
					zap.Int("question_id", q.ID),
					zap.Error(err),
				)
				failures = append(failures, fmt.Errorf("question %d: %w", q.ID, err))
				return nil
			}
			answers[q.ID] = answer
			return nil
		})
	}

	if err := g1.Wait(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	logger.Info("Golden answers generated",
		zap.String("file", fileName),
		zap.Int("answers", len(answers)),
	)

	return answers, nil
}

func (g *GoldenGenerator) answerOne(ctx context.Context, docText, question string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: docText},
		{Role: openai.ChatMessageRoleUser, Content: question},
	}

	resp, err := g.chat.CompleteWithTools(ctx, llm.ChatRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	g.agg.Add(metering.StageAnswers, g.model, metering.Delta{
		Requests:     1,
		MessagesSent: len(messages),
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
	})

	return resp.Message.Content, nil
}

package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/pkg/logger"
)

const splitPrompt = `Decompose each of the following questions into atomic sub-questions.
Each sub-question must ask for exactly one fact, so that an answer to it can
be judged true or false on its own. Keep the original wording where a
question is already atomic.

Respond with JSON only, in this exact shape, with one inner list per input
question, in the same order:
{"questions": [["sub-question", ...], ...]}

Questions:
%s`

// CreateSplitIfMissing generates questions_split.json from the core list
// with the judge model. The file is written into the dataset directory
// itself, so it becomes part of the fingerprint; the caller validates the
// fingerprint afterwards.
func CreateSplitIfMissing(ctx context.Context, chat llm.Chat, model string, agg *metering.Aggregator, dir string) error {
	path := filepath.Join(dir, QuestionsSplitFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	core, err := LoadCoreQuestions(dir)
	if err != nil {
		return err
	}

	logger.Info("Creating split questions",
		zap.String("file", path),
		zap.Int("core_questions", len(core)),
	)

	var numbered strings.Builder
	for i, q := range core {
		fmt.Fprintf(&numbered, "%d. %s\n", i, q)
	}

	resp, err := chat.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		UserPrompt:  fmt.Sprintf(splitPrompt, numbered.String()),
		Temperature: 0.1,
	})
	if err != nil {
		return fmt.Errorf("failed to create split questions: %w", err)
	}

	agg.Add(metering.StageDatasetCompose, model, metering.Delta{
		Requests:     1,
		MessagesSent: 1,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
	})

	var doc splitQuestionsDoc
	if err := llm.ParseJSONOutput(resp.Content, &doc); err != nil {
		return fmt.Errorf("%w: split questions response: %v", ErrDatasetMalformed, err)
	}
	if len(doc.Questions) != len(core) {
		return fmt.Errorf("%w: split questions response has %d groups, want %d",
			ErrDatasetMalformed, len(doc.Questions), len(core))
	}
	for i, group := range doc.Questions {
		if len(group) == 0 {
			return fmt.Errorf("%w: split questions group %d is empty", ErrDatasetMalformed, i)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", QuestionsSplitFile, err)
	}

	total := 0
	for _, group := range doc.Questions {
		total += len(group)
	}
	logger.Info("Split questions created", zap.Int("split_questions", total))

	return nil
}

package answers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
)

func TestGoldenGenerate(t *testing.T) {
	chat := &fakeChat{onCall: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		require.Len(t, req.Messages, 3)
		assert.Empty(t, req.Tools)
		return assistantAnswer("answer to: " + req.Messages[2].Content), nil
	}}

	agg := metering.NewAggregator()
	g := NewGoldenGenerator(chat, "chat-model", agg, 2)

	questions := []dataset.Question{
		{ID: 0, Text: "first question"},
		{ID: 1, Text: "second question"},
	}

	answers, err := g.Generate(context.Background(), "a.pdf", "the document text", questions)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "answer to: first question", answers[0])
	assert.Equal(t, "answer to: second question", answers[1])

	snap := agg.Snapshot()
	assert.Equal(t, 2, snap[metering.StageAnswers]["chat-model"].RequestsCnt)
	assert.Equal(t, 6, snap[metering.StageAnswers]["chat-model"].MessagesSentCnt)
}

func TestGoldenRejectsOversizedDocument(t *testing.T) {
	g := NewGoldenGenerator(nil, "chat-model", metering.NewAggregator(), 1)

	doc := strings.Repeat("x", maxDocTokens*4+4)
	_, err := g.Generate(context.Background(), "big.pdf", doc, []dataset.Question{{ID: 0, Text: "q"}})
	require.ErrorIs(t, err, ErrDocumentTooLarge)
}

package run

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rageval/harness/internal/answers"
	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/judge"
	"github.com/rageval/harness/internal/stats"
)

func testQuestions() []dataset.Question {
	return []dataset.Question{
		{
			ID:   0,
			Text: "Which standards apply and who certifies them?",
			Split: []dataset.SplitQuestion{
				{ID: 0, Text: "Which standards apply?"},
				{ID: 1, Text: "Who certifies them?"},
			},
		},
		{
			ID:    1,
			Text:  "What is the deadline?",
			Split: []dataset.SplitQuestion{{ID: 0, Text: "What is the deadline?"}},
		},
	}
}

func TestWriteParams(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	err := WriteParams(l, Params{
		Description:   "baseline",
		VectorBackend: "milvus",
		ChatModel:     "chat",
		JudgeModel:    "judge",
		AnalyseModel:  "analyse",
		EvalDocuments: []string{"a.pdf"},
	}, testQuestions())
	require.NoError(t, err)

	var splitIndex map[string]string
	data, err := os.ReadFile(l.QuestionsSplitFile())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &splitIndex))
	assert.Equal(t, "Who certifies them?", splitIndex["0_1"])

	var params Params
	data, err = os.ReadFile(l.ParamsFile())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &params))
	assert.Equal(t, "baseline", params.Description)
}

func TestAnswersTextFormat(t *testing.T) {
	text := answersText("a.pdf", map[int]string{0: "answer zero"}, testQuestions())

	assert.Contains(t, text, "FN: a.pdf")
	assert.Contains(t, text, "Q;ID=0:")
	assert.Contains(t, text, "answer zero")
	// Question 1 has no answer and must not appear.
	assert.NotContains(t, text, "Q;ID=1:")
}

func TestWriteRAGAnswersTranscripts(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	results := map[int]*answers.SessionResult{
		0: {
			Answer: "final answer",
			Transcript: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "system"},
				{Role: openai.ChatMessageRoleUser, Content: "question"},
				{Role: openai.ChatMessageRoleAssistant, Content: "final answer"},
			},
			Iterations: 2,
		},
	}

	require.NoError(t, WriteRAGAnswers(l, "a.pdf", results, testQuestions()))

	raw, err := os.ReadFile(filepath.Join(l.RAGResultsDir(), "a", "0.json"))
	require.NoError(t, err)
	var transcript []openai.ChatCompletionMessage
	require.NoError(t, json.Unmarshal(raw, &transcript))
	assert.Len(t, transcript, 3)

	readable, err := os.ReadFile(filepath.Join(l.RAGResultsDir(), "a", "0.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(readable), "ROLE: assistant")

	final, err := os.ReadFile(filepath.Join(l.RAGAnswersDir(), "a.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(final), "final answer")
}

func TestEvalsTextFormat(t *testing.T) {
	questions := testQuestions()
	evals := map[int]*judge.Evaluation{
		0: {
			Answer: "judged answer",
			Questions: []judge.Verdict{
				{ID: 0, Answered: true, Confident: true},
				{ID: 1, Answered: false},
			},
		},
	}

	text := EvalsText("a.pdf", evals, questions)
	assert.Contains(t, text, "ANSWER: judged answer")
	assert.Contains(t, text, "SUBQ; ID=0_0:")
	assert.Contains(t, text, "SUBQ; ID=0_1:")
	assert.Contains(t, text, "Which standards apply?")
	assert.Contains(t, text, `"is_question_answered": true`)
}

func TestWriteMetricsProjection(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	results := &stats.Results{
		PerQuestion: map[string]stats.FieldMetrics{
			"0_0": {Comprehensive: stats.BinaryMetrics{NSamples: 2}},
		},
		PerFile: map[string]stats.FieldMetrics{
			"a.pdf": {Comprehensive: stats.BinaryMetrics{NSamples: 3}},
		},
		Overall:  stats.FieldMetrics{Comprehensive: stats.BinaryMetrics{NSamples: 3}},
		Excluded: 1,
	}
	passed := map[string]map[string]bool{"a.pdf": {"0_0": true}}

	require.NoError(t, WriteMetrics(l, results, passed))

	data, err := os.ReadFile(filepath.Join(l.MetricsDir(), "comprehensive_answer.json"))
	require.NoError(t, err)
	var comp struct {
		PerFile  map[string]stats.BinaryMetrics `json:"per_file"`
		Excluded int                            `json:"excluded_pairs"`
	}
	require.NoError(t, json.Unmarshal(data, &comp))
	assert.Equal(t, 3, comp.PerFile["a.pdf"].NSamples)
	assert.Equal(t, 1, comp.Excluded)

	for _, name := range []string{"results.json", "passed_overall.json"} {
		_, err := os.Stat(filepath.Join(l.MetricsDir(), name))
		assert.NoError(t, err)
	}
}

package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rageval/harness/internal/answers"
	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/judge"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/stats"
)

func TestRunStageFailsWhenStatusNotPersisted(t *testing.T) {
	o := newResumeOrchestrator(t, []dataset.File{{ID: "file_a", Name: "a.pdf"}})
	require.NoError(t, o.db.Close())

	ran := false
	err := o.runStage(context.Background(), metering.StageExtraction, func(context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, metering.StageExtraction, stageErr.Stage)
	assert.False(t, ran, "stage body must not run when its status cannot be persisted")
}

func TestPersistAnswersFailureSurfaces(t *testing.T) {
	o := newResumeOrchestrator(t, []dataset.File{{ID: "file_a", Name: "a.pdf"}})
	require.NoError(t, o.db.Close())

	err := o.persistAnswers(
		dataset.File{ID: "file_a", Name: "a.pdf"},
		map[int]string{0: "golden answer"},
		map[int]*answers.SessionResult{0: {Answer: "rag answer"}},
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.pdf")
}

func TestPersistLabelsFailureSurfaces(t *testing.T) {
	o := newResumeOrchestrator(t, []dataset.File{{ID: "file_a", Name: "a.pdf"}})
	require.NoError(t, o.db.Close())

	err := o.persistLabels(dataset.File{ID: "file_a", Name: "a.pdf"}, &judge.DocumentResult{
		Pairs: []stats.LabeledPair{{
			File:        "a.pdf",
			QuestionKey: "0_0",
			Golden:      stats.Labels{Answered: true, Confident: true},
			Pred:        stats.Labels{Answered: true, Confident: true},
		}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "0_0")
}

package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rageval/harness/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.InitSchema())
	return c
}

func TestRunRoundTrip(t *testing.T) {
	c := newTestClient(t)

	run := &models.Run{
		ID:                 "run-1",
		DatasetName:        "contracts",
		DatasetFingerprint: "abc123",
		RunDir:             "/runs/0001",
		CreatedAt:          time.Unix(1700000000, 0),
	}
	require.NoError(t, c.InsertRun(run))

	got, err := c.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, run.DatasetName, got.DatasetName)
	require.Equal(t, run.DatasetFingerprint, got.DatasetFingerprint)
	require.Equal(t, run.RunDir, got.RunDir)
	require.True(t, run.CreatedAt.Equal(got.CreatedAt))
}

func TestStageUpsert(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertRun(&models.Run{
		ID: "run-1", DatasetName: "d", DatasetFingerprint: "f", RunDir: "r",
		CreatedAt: time.Now(),
	}))

	require.NoError(t, c.UpsertStage(&models.RunStage{
		RunID: "run-1", Stage: "stage1", Status: models.StageRunning,
		StartedAt: time.Unix(100, 0),
	}))
	require.NoError(t, c.UpsertStage(&models.RunStage{
		RunID: "run-1", Stage: "stage1", Status: models.StageCompleted,
		StartedAt: time.Unix(100, 0), FinishedAt: time.Unix(200, 0),
	}))

	stages, err := c.GetStages("run-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, models.StageCompleted, stages[0].Status)
	require.Equal(t, int64(200), stages[0].FinishedAt.Unix())
}

func TestAnswersFilteredByKind(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertRun(&models.Run{
		ID: "run-1", DatasetName: "d", DatasetFingerprint: "f", RunDir: "r",
		CreatedAt: time.Now(),
	}))

	require.NoError(t, c.InsertAnswer(&models.Answer{
		RunID: "run-1", FileID: "file-a", FileName: "a.pdf", QuestionKey: "0_0",
		Kind: models.AnswerKindGolden, Text: "golden answer", CreatedAt: time.Now(),
	}))
	require.NoError(t, c.InsertAnswer(&models.Answer{
		RunID: "run-1", FileID: "file-a", FileName: "a.pdf", QuestionKey: "0_0",
		Kind: models.AnswerKindRAG, Text: "rag answer", Forced: true, Iterations: 5,
		CreatedAt: time.Now(),
	}))

	golden, err := c.GetAnswers("run-1", models.AnswerKindGolden)
	require.NoError(t, err)
	require.Len(t, golden, 1)
	require.Equal(t, "golden answer", golden[0].Text)
	require.False(t, golden[0].Forced)

	rag, err := c.GetAnswers("run-1", models.AnswerKindRAG)
	require.NoError(t, err)
	require.Len(t, rag, 1)
	require.True(t, rag[0].Forced)
	require.Equal(t, 5, rag[0].Iterations)
}

func TestInsertJudgeLabel(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertRun(&models.Run{
		ID: "run-1", DatasetName: "d", DatasetFingerprint: "f", RunDir: "r",
		CreatedAt: time.Now(),
	}))

	require.NoError(t, c.InsertJudgeLabel(&models.JudgeLabel{
		RunID: "run-1", FileID: "file-a", QuestionKey: "0_0", Kind: models.AnswerKindRAG,
		Answered: true, Confident: true, CreatedAt: time.Now(),
	}))
}

package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunDirNumbering(t *testing.T) {
	root := t.TempDir()

	l1, err := NextRunDir(root)
	require.NoError(t, err)
	assert.Equal(t, "0001", l1.RunID())

	l2, err := NextRunDir(root)
	require.NoError(t, err)
	assert.Equal(t, "0002", l2.RunID())

	info, err := os.Stat(l2.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNextRunDirIgnoresForeignEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "12"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "0009"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "0041"), 0o755))

	l, err := NextRunDir(root)
	require.NoError(t, err)
	assert.Equal(t, "0042", l.RunID())
}

func TestLayoutPathsShareRoot(t *testing.T) {
	l := Layout{Root: "/runs/0007"}

	assert.Equal(t, "0007", l.RunID())
	assert.Equal(t, "/runs/0007/metering.json", l.MeteringFile())
	assert.Equal(t, "/runs/0007/stage1_extraction/paragraphs_raw", l.ParagraphsRawDir())
	assert.Equal(t, "/runs/0007/stage2_answers/rag_results", l.RAGResultsDir())
	assert.Equal(t, "/runs/0007/stage3_evaluation/metrics", l.MetricsDir())
	assert.Equal(t, "/runs/0007/stage4_analysis/user_messages", l.AnalysisUserMessagesDir())
}

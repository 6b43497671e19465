package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, dir string, questions []string, split [][]string, pdfs map[string]string) {
	t.Helper()

	data, err := json.Marshal(questions)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuestionsFile), data, 0644))

	data, err = json.Marshal(splitQuestionsDoc{Questions: split})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuestionsSplitFile), data, 0644))

	for name, content := range pdfs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func validDataset(t *testing.T) string {
	dir := t.TempDir()
	writeDataset(t, dir,
		[]string{"What is the delivery deadline?", "Which standards apply?"},
		[][]string{
			{"What is the delivery deadline?"},
			{"Which quality standards apply?", "Which safety standards apply?"},
		},
		map[string]string{"contract.pdf": "pdf-bytes-a", "annex.pdf": "pdf-bytes-b"},
	)
	return dir
}

func TestLoad(t *testing.T) {
	dir := validDataset(t)

	d, err := Load(dir)
	require.NoError(t, err)

	assert.Len(t, d.Files, 2)
	assert.Equal(t, "annex.pdf", d.Files[0].Name)
	assert.Equal(t, "contract.pdf", d.Files[1].Name)
	assert.Len(t, d.Questions, 2)
	assert.Equal(t, 3, d.SplitCount())
	assert.Equal(t, "1_1", d.Questions[1].Key(d.Questions[1].Split[1]))
}

func TestLoadMalformedQuestions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuestionsFile), []byte(`{"not": "a list"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.pdf"), []byte("x"), 0644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrDatasetMalformed)
}

func TestLoadEmptyQuestionItem(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, []string{"ok", "  "}, [][]string{{"ok"}, {"x"}},
		map[string]string{"doc.pdf": "x"})

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrDatasetMalformed)
}

func TestLoadNoPDFs(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, []string{"q"}, [][]string{{"q"}}, nil)

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrDatasetMalformed)
}

func TestLoadSplitCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, []string{"a", "b"}, [][]string{{"a"}},
		map[string]string{"doc.pdf": "x"})

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrDatasetMalformed)
}

func TestValidateRecordsThenPasses(t *testing.T) {
	dir := validDataset(t)

	d, err := Load(dir)
	require.NoError(t, err)

	// First run records the fingerprint.
	md, err := Validate(d)
	require.NoError(t, err)
	require.NotEmpty(t, md.Fingerprint())
	_, err = os.Stat(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)

	// Re-validating the unmodified dataset never fails.
	d2, err := Load(dir)
	require.NoError(t, err)
	md2, err := Validate(d2)
	require.NoError(t, err)
	assert.Equal(t, md.Fingerprint(), md2.Fingerprint())
}

func TestValidateDetectsFileTamper(t *testing.T) {
	dir := validDataset(t)

	d, err := Load(dir)
	require.NoError(t, err)
	_, err = Validate(d)
	require.NoError(t, err)

	// One changed byte in one PDF must fail the next run.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contract.pdf"), []byte("pdf-bytes-X"), 0644))

	d2, err := Load(dir)
	require.NoError(t, err)
	_, err = Validate(d2)
	assert.ErrorIs(t, err, ErrDatasetChanged)
}

func TestValidateDetectsQuestionReorder(t *testing.T) {
	dir := validDataset(t)

	d, err := Load(dir)
	require.NoError(t, err)
	_, err = Validate(d)
	require.NoError(t, err)

	writeDataset(t, dir,
		[]string{"Which standards apply?", "What is the delivery deadline?"},
		[][]string{
			{"Which quality standards apply?", "Which safety standards apply?"},
			{"What is the delivery deadline?"},
		},
		nil,
	)

	d2, err := Load(dir)
	require.NoError(t, err)
	_, err = Validate(d2)
	assert.ErrorIs(t, err, ErrDatasetChanged)
}

func TestFingerprintIsPureFunctionOfContent(t *testing.T) {
	dir := validDataset(t)
	d, err := Load(dir)
	require.NoError(t, err)

	a, err := computeMetadata(dir, d.Files)
	require.NoError(t, err)
	b, err := computeMetadata(dir, d.Files)
	require.NoError(t, err)

	// Timestamps differ; fingerprints must not.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rageval/harness/pkg/logger"
)

var (
	// ErrDatasetChanged means the dataset content no longer matches the
	// fingerprint recorded on first use. Fatal: the run must not start
	// until the dataset is restored or the fingerprint discarded.
	ErrDatasetChanged = errors.New("dataset integrity compromised")

	// ErrDatasetMalformed means the question files are not in the
	// expected shape.
	ErrDatasetMalformed = errors.New("dataset malformed")
)

const (
	QuestionsFile      = "questions_str.json"
	QuestionsSplitFile = "questions_split.json"
	MetadataFile       = ".metadata.json"

	// Questions are sent to the model in one prompt during split
	// creation; the len/4 heuristic keeps them inside a 16k token budget.
	maxQuestionTokens = 16_000
)

// File is one source PDF of the dataset. ID is the storage identity for the
// lifetime of a run; Name is the original file name and the key used in all
// artifacts.
type File struct {
	ID       string
	Name     string
	Path     string
	Checksum string
}

// SplitQuestion is one atomic sub-question. Only split questions are judged.
type SplitQuestion struct {
	ID   int    `json:"id"`
	Text string `json:"question"`
}

// Question is one core question together with its split decomposition. The
// core text seeds answer generation; the split list drives evaluation.
type Question struct {
	ID    int             `json:"id"`
	Text  string          `json:"question"`
	Split []SplitQuestion `json:"questions_split"`
}

// Key returns the artifact key of one sub-question, e.g. "3_1".
func (q Question) Key(split SplitQuestion) string {
	return fmt.Sprintf("%d_%d", q.ID, split.ID)
}

type Dataset struct {
	Name      string
	Dir       string
	Files     []File
	Questions []Question
}

func (d *Dataset) SplitCount() int {
	n := 0
	for _, q := range d.Questions {
		n += len(q.Split)
	}
	return n
}

// Load reads the dataset directory: every *.pdf plus both question files.
// questions_split.json must already exist (see CreateSplitIfMissing) and the
// fingerprint must validate before the caller proceeds.
func Load(dir string) (*Dataset, error) {
	files, err := listPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no *.pdf found in %s", ErrDatasetMalformed, dir)
	}

	core, err := LoadCoreQuestions(dir)
	if err != nil {
		return nil, err
	}

	split, err := loadSplitQuestions(dir)
	if err != nil {
		return nil, err
	}
	if len(split) != len(core) {
		return nil, fmt.Errorf("%w: %s has %d entries, %s has %d",
			ErrDatasetMalformed, QuestionsSplitFile, len(split), QuestionsFile, len(core))
	}

	questions := make([]Question, len(core))
	for i, text := range core {
		q := Question{ID: i, Text: text}
		for j, sub := range split[i] {
			q.Split = append(q.Split, SplitQuestion{ID: j, Text: sub})
		}
		questions[i] = q
	}

	d := &Dataset{
		Name:      filepath.Base(dir),
		Dir:       dir,
		Files:     files,
		Questions: questions,
	}

	logger.Info("Dataset loaded",
		zap.String("name", d.Name),
		zap.Int("files", len(d.Files)),
		zap.Int("questions", len(d.Questions)),
		zap.Int("split_questions", d.SplitCount()),
	)

	return d, nil
}

// LoadCoreQuestions reads and validates questions_str.json: a flat JSON
// array of non-empty strings.
func LoadCoreQuestions(dir string) ([]string, error) {
	path := filepath.Join(dir, QuestionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetMalformed, err)
	}

	var questions []string
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("%w: %s must be a flat list of strings: %v", ErrDatasetMalformed, QuestionsFile, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrDatasetMalformed, QuestionsFile)
	}

	tokens := 0.0
	for i, q := range questions {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: %s item %d is empty", ErrDatasetMalformed, QuestionsFile, i)
		}
		tokens += float64(len(q)) / 4
	}
	if tokens >= maxQuestionTokens {
		return nil, fmt.Errorf("%w: %s exceeds the %d token budget", ErrDatasetMalformed, QuestionsFile, maxQuestionTokens)
	}

	return questions, nil
}

type splitQuestionsDoc struct {
	Questions [][]string `json:"questions"`
}

func loadSplitQuestions(dir string) ([][]string, error) {
	path := filepath.Join(dir, QuestionsSplitFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetMalformed, err)
	}

	var doc splitQuestionsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatasetMalformed, QuestionsSplitFile, err)
	}

	for i, group := range doc.Questions {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: %s entry %d has no sub-questions", ErrDatasetMalformed, QuestionsSplitFile, i)
		}
	}

	return doc.Questions, nil
}

func listPDFs(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset dir: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		files = append(files, File{
			ID:   "file_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24],
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

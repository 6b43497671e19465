package run

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Layout is the artifact tree of one run. Directories are created lazily by
// the stage that writes into them; the run root is created up front by
// NextRunDir.
type Layout struct {
	Root string
}

// NextRunDir creates the next numbered run directory under runsRoot,
// following the "0001", "0002", ... convention.
func NextRunDir(runsRoot string) (Layout, error) {
	if err := os.MkdirAll(runsRoot, 0o755); err != nil {
		return Layout{}, fmt.Errorf("failed to create runs dir: %w", err)
	}

	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read runs dir: %w", err)
	}

	var numbered []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 4 && isDigits(e.Name()) {
			numbered = append(numbered, e.Name())
		}
	}
	sort.Strings(numbered)

	next := 1
	if len(numbered) > 0 {
		fmt.Sscanf(numbered[len(numbered)-1], "%d", &next)
		next++
	}

	root := filepath.Join(runsRoot, fmt.Sprintf("%04d", next))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Layout{}, fmt.Errorf("failed to create run dir: %w", err)
	}

	return Layout{Root: root}, nil
}

// AttachRunDir opens an existing numbered run directory so a crashed run can
// be resumed. Stages already marked completed keep their artifacts untouched.
func AttachRunDir(runsRoot, runID string) (Layout, error) {
	if len(runID) != 4 || !isDigits(runID) {
		return Layout{}, fmt.Errorf("invalid run id %q, expected a four digit name like 0001", runID)
	}

	root := filepath.Join(runsRoot, runID)
	info, err := os.Stat(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to open run dir: %w", err)
	}
	if !info.IsDir() {
		return Layout{}, fmt.Errorf("run path %s is not a directory", root)
	}

	return Layout{Root: root}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// RunID is the run's numbered directory name.
func (l Layout) RunID() string {
	return filepath.Base(l.Root)
}

func (l Layout) ParamsFile() string    { return filepath.Join(l.Root, "params.json") }
func (l Layout) QuestionsFile() string { return filepath.Join(l.Root, "QID2Questions.json") }
func (l Layout) QuestionsSplitFile() string {
	return filepath.Join(l.Root, "QID2QuestionsSplit.json")
}
func (l Layout) MeteringFile() string { return filepath.Join(l.Root, "metering.json") }

func (l Layout) ParagraphsRawDir() string {
	return filepath.Join(l.Root, "stage1_extraction", "paragraphs_raw")
}
func (l Layout) ParagraphsReadableDir() string {
	return filepath.Join(l.Root, "stage1_extraction", "paragraphs_readable")
}

func (l Layout) GoldenAnswersDir() string {
	return filepath.Join(l.Root, "stage2_answers", "golden")
}
func (l Layout) RAGAnswersDir() string {
	return filepath.Join(l.Root, "stage2_answers", "rag")
}
func (l Layout) RAGResultsDir() string {
	return filepath.Join(l.Root, "stage2_answers", "rag_results")
}

func (l Layout) JudgeGoldenDir() string {
	return filepath.Join(l.Root, "stage3_evaluation", "llm_judge", "golden_evals")
}
func (l Layout) JudgeRAGDir() string {
	return filepath.Join(l.Root, "stage3_evaluation", "llm_judge", "rag_evals")
}
func (l Layout) MetricsDir() string {
	return filepath.Join(l.Root, "stage3_evaluation", "metrics")
}

func (l Layout) AnalysisResultsDir() string {
	return filepath.Join(l.Root, "stage4_analysis", "results")
}
func (l Layout) AnalysisUserMessagesDir() string {
	return filepath.Join(l.Root, "stage4_analysis", "user_messages")
}

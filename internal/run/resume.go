package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rageval/harness/internal/answers"
	"github.com/rageval/harness/internal/extraction"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/stats"
	"github.com/rageval/harness/internal/storage/models"
)

// restoreStage rebuilds the in-memory outputs of a stage that a previous
// process already completed, reading the run directory and the run records.
// The vector store is external, so extraction restore only needs the
// paragraph dumps; the indexed embeddings are still where stage 1 left them.
func (o *Orchestrator) restoreStage(name string) error {
	switch name {
	case metering.StageExtraction:
		return o.restoreExtraction()
	case metering.StageAnswers:
		return o.restoreAnswers()
	case metering.StageEvaluation:
		return o.restoreEvaluation()
	case metering.StageAnalysis:
		return nil
	default:
		return fmt.Errorf("unknown stage %q", name)
	}
}

func (o *Orchestrator) restoreExtraction() error {
	for _, f := range o.ds.Files {
		path := filepath.Join(o.layout.ParagraphsRawDir(), baseName(f.Name)+".json")
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			// The file was dropped as a per-file error in the original pass.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read paragraphs for %s: %w", f.Name, err)
		}

		var paragraphs []extraction.Paragraph
		if err := json.Unmarshal(data, &paragraphs); err != nil {
			return fmt.Errorf("failed to parse paragraphs for %s: %w", f.Name, err)
		}
		o.paragraphs[f.Name] = paragraphs
	}

	if len(o.paragraphs) == 0 {
		return fmt.Errorf("no extracted paragraphs found under %s", o.layout.ParagraphsRawDir())
	}
	return nil
}

func (o *Orchestrator) restoreAnswers() error {
	golden, err := o.db.GetAnswers(o.layout.RunID(), models.AnswerKindGolden)
	if err != nil {
		return err
	}
	for _, a := range golden {
		id, err := strconv.Atoi(a.QuestionKey)
		if err != nil {
			return fmt.Errorf("malformed question key %q: %w", a.QuestionKey, err)
		}
		byID, ok := o.golden[a.FileName]
		if !ok {
			byID = make(map[int]string)
			o.golden[a.FileName] = byID
		}
		byID[id] = a.Text
	}

	rag, err := o.db.GetAnswers(o.layout.RunID(), models.AnswerKindRAG)
	if err != nil {
		return err
	}
	for _, a := range rag {
		id, err := strconv.Atoi(a.QuestionKey)
		if err != nil {
			return fmt.Errorf("malformed question key %q: %w", a.QuestionKey, err)
		}
		byID, ok := o.rag[a.FileName]
		if !ok {
			byID = make(map[int]*answers.SessionResult)
			o.rag[a.FileName] = byID
		}
		byID[id] = &answers.SessionResult{
			Answer:     a.Text,
			Forced:     a.Forced,
			Iterations: a.Iterations,
		}
	}

	if len(o.golden) == 0 && len(o.rag) == 0 {
		return fmt.Errorf("no stored answers for run %s", o.layout.RunID())
	}
	return nil
}

func (o *Orchestrator) restoreEvaluation() error {
	for _, f := range o.ds.Files {
		goldenText, err := os.ReadFile(filepath.Join(o.layout.JudgeGoldenDir(), baseName(f.Name)+".txt"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read golden evals for %s: %w", f.Name, err)
		}
		ragText, err := os.ReadFile(filepath.Join(o.layout.JudgeRAGDir(), baseName(f.Name)+".txt"))
		if err != nil {
			return fmt.Errorf("failed to read rag evals for %s: %w", f.Name, err)
		}
		o.evalTexts[f.Name] = [2]string{string(goldenText), string(ragText)}
	}

	var results stats.Results
	if err := readJSON(filepath.Join(o.layout.MetricsDir(), "results.json"), &results); err != nil {
		return err
	}
	o.results = &results

	o.passed = make(map[string]map[string]bool)
	return readJSON(filepath.Join(o.layout.MetricsDir(), "passed_overall.json"), &o.passed)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rageval/harness/internal/answers"
	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/judge"
	"github.com/rageval/harness/internal/stats"
)

// Params records what this run was: which models, which backend, which
// documents. Written once at run start.
type Params struct {
	Description   string   `json:"description"`
	VectorBackend string   `json:"vector_backend"`
	ChatModel     string   `json:"chat_model"`
	JudgeModel    string   `json:"chat_eval_model"`
	AnalyseModel  string   `json:"chat_analyse_model"`
	EvalDocuments []string `json:"eval_documents"`
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeText(dir, name, text string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func baseName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// WriteParams dumps the run parameters and the question index files.
func WriteParams(l Layout, p Params, questions []dataset.Question) error {
	if err := writeJSON(l.ParamsFile(), p); err != nil {
		return err
	}

	coreIndex := make(map[string]string, len(questions))
	splitIndex := make(map[string]string)
	for _, q := range questions {
		coreIndex[fmt.Sprintf("%d", q.ID)] = q.Text
		for _, s := range q.Split {
			splitIndex[q.Key(s)] = s.Text
		}
	}

	if err := writeJSON(l.QuestionsFile(), coreIndex); err != nil {
		return err
	}
	return writeJSON(l.QuestionsSplitFile(), splitIndex)
}

func answersText(fileName string, byID map[int]string, questions []dataset.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FN: %s\n\n\n\n", fileName)
	for _, q := range questions {
		answer, ok := byID[q.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Q;ID=%d:\n%s\n\nA:\n%s\n\n\n\n", q.ID, q.Text, answer)
	}
	return b.String()
}

// WriteGoldenAnswers dumps one file's golden answers in readable form.
func WriteGoldenAnswers(l Layout, fileName string, byID map[int]string, questions []dataset.Question) error {
	return writeText(l.GoldenAnswersDir(), baseName(fileName)+".txt", answersText(fileName, byID, questions))
}

// WriteRAGAnswers dumps one file's final RAG answers in readable form and
// the full session transcripts, raw and readable, per question.
func WriteRAGAnswers(l Layout, fileName string, results map[int]*answers.SessionResult, questions []dataset.Question) error {
	final := make(map[int]string, len(results))
	for id, res := range results {
		final[id] = res.Answer
	}
	if err := writeText(l.RAGAnswersDir(), baseName(fileName)+".txt", answersText(fileName, final, questions)); err != nil {
		return err
	}

	fileDir := filepath.Join(l.RAGResultsDir(), baseName(fileName))
	for id, res := range results {
		data, err := json.MarshalIndent(res.Transcript, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal transcript: %w", err)
		}
		if err := writeText(fileDir, fmt.Sprintf("%d.json", id), string(data)); err != nil {
			return err
		}

		readable := make([]string, len(res.Transcript))
		for i, m := range res.Transcript {
			readable[i] = chatMessageReadable(m)
		}
		if err := writeText(fileDir, fmt.Sprintf("%d.txt", id), strings.Join(readable, "\n\n")); err != nil {
			return err
		}
	}
	return nil
}

func chatMessageReadable(m openai.ChatCompletionMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ROLE: %s\n%s", m.Role, m.Content)
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(&b, "\nTOOL CALL: %s(%s)", tc.Function.Name, tc.Function.Arguments)
	}
	if m.ToolCallID != "" {
		fmt.Fprintf(&b, "\nTOOL CALL ID: %s", m.ToolCallID)
	}
	return b.String()
}

// EvalsText renders one file's judge evaluations per core question, one
// verdict block per sub-question.
func EvalsText(fileName string, evals map[int]*judge.Evaluation, questions []dataset.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FN: %s\n\n\n\n", fileName)
	for _, q := range questions {
		eval, ok := evals[q.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Q;ID=%d:\n%s\n\n", q.ID, q.Text)
		fmt.Fprintf(&b, "ANSWER: %s\n\n", eval.Answer)

		splitText := make(map[int]string, len(q.Split))
		for _, s := range q.Split {
			splitText[s.ID] = s.Text
		}
		for _, v := range eval.Questions {
			fmt.Fprintf(&b, "SUBQ; ID=%d_%d:\n%s\n\n", q.ID, v.ID, splitText[v.ID])
			data, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintf(&b, "EVAL:\n%s\n\n", data)
		}
	}
	return b.String()
}

// WriteJudgeEvals dumps one file's golden and RAG judge evaluations and
// returns the readable texts, which feed the analysis prompt.
func WriteJudgeEvals(l Layout, fileName string, res *judge.DocumentResult, questions []dataset.Question) (goldenText, ragText string, err error) {
	goldenText = EvalsText(fileName, res.Golden, questions)
	if err = writeText(l.JudgeGoldenDir(), baseName(fileName)+".txt", goldenText); err != nil {
		return "", "", err
	}
	ragText = EvalsText(fileName, res.RAG, questions)
	if err = writeText(l.JudgeRAGDir(), baseName(fileName)+".txt", ragText); err != nil {
		return "", "", err
	}
	return goldenText, ragText, nil
}

// comprehensiveOnly projects the composite-label metrics out of the full
// per-field results, the shape the analysis stage and readers consume.
type comprehensiveOnly struct {
	PerQuestion map[string]stats.BinaryMetrics `json:"per_question"`
	PerFile     map[string]stats.BinaryMetrics `json:"per_file"`
	Overall     stats.BinaryMetrics            `json:"overall"`
	Excluded    int                            `json:"excluded_pairs"`
}

// WriteMetrics dumps the stage 3 metric artifacts: the full per-field
// results, the composite-only view and the per-question pass map.
func WriteMetrics(l Layout, results *stats.Results, passed map[string]map[string]bool) error {
	if err := os.MkdirAll(l.MetricsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}

	if err := writeJSON(filepath.Join(l.MetricsDir(), "results.json"), results); err != nil {
		return err
	}

	comp := comprehensiveOnly{
		PerQuestion: make(map[string]stats.BinaryMetrics, len(results.PerQuestion)),
		PerFile:     make(map[string]stats.BinaryMetrics, len(results.PerFile)),
		Overall:     results.Overall.Comprehensive,
		Excluded:    results.Excluded,
	}
	for k, fm := range results.PerQuestion {
		comp.PerQuestion[k] = fm.Comprehensive
	}
	for f, fm := range results.PerFile {
		comp.PerFile[f] = fm.Comprehensive
	}
	if err := writeJSON(filepath.Join(l.MetricsDir(), "comprehensive_answer.json"), comp); err != nil {
		return err
	}

	return writeJSON(filepath.Join(l.MetricsDir(), "passed_overall.json"), passed)
}

// WriteAnalysis dumps one file's analysis report and the prompt that
// produced it.
func WriteAnalysis(l Layout, fileName string, report, userMessage string) error {
	if err := writeText(l.AnalysisResultsDir(), baseName(fileName)+".md", report); err != nil {
		return err
	}
	return writeText(l.AnalysisUserMessagesDir(), baseName(fileName)+".txt", userMessage)
}

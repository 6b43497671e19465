package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/pkg/logger"
)

// Analyzer turns one file's judged answers and metrics into a narrative
// report, one model call per file.
type Analyzer struct {
	chat        llm.Chat
	model       string
	agg         *metering.Aggregator
	concurrency int
}

func NewAnalyzer(chat llm.Chat, model string, agg *metering.Aggregator, concurrency int) *Analyzer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Analyzer{
		chat:        chat,
		model:       model,
		agg:         agg,
		concurrency: concurrency,
	}
}

// FileInput is everything the analysis prompt for one file is built from:
// the readable judge dumps, the per-question pass map and the file's
// comprehensive metrics with their confidence intervals.
type FileInput struct {
	FileName      string
	GoldenEvals   string
	RAGEvals      string
	PassedOverall map[string]bool
	Comprehensive any
}

// FileReport pairs the prompt that was sent with the report that came back,
// both of which are persisted as stage 4 artifacts.
type FileReport struct {
	UserMessage string
	Report      string
}

// Analyse produces a report per file. Files run concurrently; any failed
// file fails the whole call.
func (a *Analyzer) Analyse(ctx context.Context, inputs []FileInput) (map[string]FileReport, error) {
	reports := make(map[string]FileReport, len(inputs))
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, in := range inputs {
		in := in
		g.Go(func() error {
			userMessage, err := buildUserMessage(in)
			if err == nil {
				var report string
				report, err = a.analyseOne(gctx, userMessage)
				if err == nil {
					mu.Lock()
					reports[in.FileName] = FileReport{UserMessage: userMessage, Report: report}
					mu.Unlock()
					return nil
				}
			}

			mu.Lock()
			defer mu.Unlock()
			logger.Error("Analysis failed",
				zap.String("file", in.FileName),
				zap.Error(err),
			)
			failures = append(failures, fmt.Errorf("file %s: %w", in.FileName, err))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	logger.Info("Analysis completed", zap.Int("files", len(reports)))

	return reports, nil
}

func (a *Analyzer) analyseOne(ctx context.Context, userMessage string) (string, error) {
	resp, err := a.chat.Complete(ctx, llm.CompletionRequest{
		Model:      a.model,
		UserPrompt: userMessage,
	})
	if err != nil {
		return "", err
	}

	a.agg.Add(metering.StageAnalysis, a.model, metering.Delta{
		Requests:     1,
		MessagesSent: 1,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
	})

	return resp.Content, nil
}

func buildUserMessage(in FileInput) (string, error) {
	passed, err := json.MarshalIndent(in.PassedOverall, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal passed_overall: %w", err)
	}
	comprehensive, err := json.MarshalIndent(in.Comprehensive, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal comprehensive metrics: %w", err)
	}

	msg := analysisPrompt
	msg = strings.ReplaceAll(msg, "%golden_answers%", in.GoldenEvals)
	msg = strings.ReplaceAll(msg, "%rag_answers%", in.RAGEvals)
	msg = strings.ReplaceAll(msg, "%passed_overall%", string(passed))
	msg = strings.ReplaceAll(msg, "%comprehensive_answer%", string(comprehensive))
	return msg, nil
}

const analysisPrompt = `I am evaluating my RAG system.
Please, conduct a research through evaluation results to provide insights about this experiment's results.
I need you to compare RAG answers with Golden Answers, Where Golden Answers = ground truth answers

To receive ground truth answer we provide the whole document to the model, and ask it a single question.
Assuming the model has all needed context, it will produce a correct answer to the question.

On the other hand RAG answers produced when model did not have access to the whole document,
but that model was able to call tools, and retrieve context through search system using vector similarities.

The point of the experiment is to compare, how close RAG Answers are to Golden Answers.

When we collected dataset with Golden Answers and RAG Answers,
we ask LLM-as-a-Judge system to mark each answer with labels. There are 4 of them initially:

"is_question_answered": boolean -- question has a reasonable answer, supplemented with details
"requires_additional_information": boolean -- whether additional information is needed to properly answer
"is_speculative": boolean -- whether answer is speculative due to insufficient context
"is_confident": boolean -- whether answer is confident or not

On top of those 4 labels we compose our target label: comprehensive_answer
It is composed in a following manner:
( is_question_answered and
not requires_additional_information and
not is_speculative and
is_confident )

Here's answers from Golden, and RAG approaches with Evaluations from Evaluator LLM-as-a-Judge model
Each question can be complex, and is split into several sub-questions e.g: QID: 0 has 0_0, 0_1 sub-questions
Evaluator model marked each sub-question with 4 labels above.

Golden Answers:
` + "```" + `
%golden_answers%
` + "```" + `

RAG Answers:
` + "```" + `
%rag_answers%
` + "```" + `

And here is a Dict, where each sub-questions corresponds to boolean value -- if question passed or not,
by golden_comprehensive_answer == rag_comprehensive_answer
` + "```" + `
%passed_overall%
` + "```" + `

Additionally, you may use metrics: accuracy, precision, recall, f1, kappa for comprehensive_answer,
those metrics received via comparison 2 List[bool]: golden and RAG for one single file.
Note, that for each metric there's Confidence Interval, which you should operate, when presenting results about a metric
` + "```" + `
%comprehensive_answer%
` + "```" + `

Having all that information, you should be able to conduct analysis of results of that experiment.

In that analysis:

* highlight cases where RAG failed to work.
  Why didn't it work in that specific case?
  Do you see systematic failure?
  What could help RAG in that specific case to work better?
* Lookup on metrics, what do they say?
  Provide your interpretation of the metric, having all the data and cases.
  What insights do those metric show?
  How to apply those insights to make RAG system perform better?
* Compose a conclusion, having both highlighted cases, and metrics.
  Summarize results of experiments, and the insights.
  How well performed RAG system?
  Operate with metrics and specific cases to supplement your conclusions.`

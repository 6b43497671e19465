package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/stats"
	"github.com/rageval/harness/pkg/logger"
)

// ErrResponseInvalid means the judge model's reply failed schema validation
// or did not cover the expected sub-questions. The affected pair is excluded
// from the metric vectors and counted, never silently dropped.
var ErrResponseInvalid = errors.New("judge response invalid")

const evaluationSchema = `{
	"type": "object",
	"required": ["questions"],
	"properties": {
		"questions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": [
					"id",
					"is_question_answered",
					"requires_additional_information",
					"is_speculative",
					"is_confident"
				],
				"properties": {
					"id": {"type": "integer"},
					"question": {"type": "string"},
					"answer": {"type": "string"},
					"is_question_answered": {"type": "boolean"},
					"requires_additional_information": {"type": "boolean"},
					"is_speculative": {"type": "boolean"},
					"is_confident": {"type": "boolean"}
				}
			}
		}
	}
}`

var schema = jsonschema.MustCompileString("evaluation.json", evaluationSchema)

// Verdict is the judge's labeling of one sub-question.
type Verdict struct {
	ID           int    `json:"id"`
	Question     string `json:"question"`
	Answer       string `json:"answer"`
	Answered     bool   `json:"is_question_answered"`
	RequiresMore bool   `json:"requires_additional_information"`
	Speculative  bool   `json:"is_speculative"`
	Confident    bool   `json:"is_confident"`
}

func (v Verdict) Labels() stats.Labels {
	return stats.Labels{
		Answered:     v.Answered,
		RequiresMore: v.RequiresMore,
		Speculative:  v.Speculative,
		Confident:    v.Confident,
	}
}

// Evaluation is the validated judge output for one answer, one verdict per
// sub-question. Answer carries the judged answer text for the artifact dump.
type Evaluation struct {
	Answer    string    `json:"answer,omitempty"`
	Questions []Verdict `json:"questions"`
}

type Judge struct {
	chat        llm.Chat
	model       string
	agg         *metering.Aggregator
	concurrency int
}

func NewJudge(chat llm.Chat, model string, agg *metering.Aggregator, concurrency int) *Judge {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Judge{
		chat:        chat,
		model:       model,
		agg:         agg,
		concurrency: concurrency,
	}
}

// Evaluate judges one answer against a question's split decomposition. The
// reply must validate against the schema and cover exactly the expected
// sub-question IDs.
func (j *Judge) Evaluate(ctx context.Context, q dataset.Question, answer string) (*Evaluation, error) {
	resp, err := j.chat.Complete(ctx, llm.CompletionRequest{
		Model:      j.model,
		UserPrompt: buildPrompt(q, answer),
	})
	if err != nil {
		return nil, err
	}

	j.agg.Add(metering.StageEvaluation, j.model, metering.Delta{
		Requests:     1,
		MessagesSent: 1,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
	})

	eval, err := parseEvaluation(resp.Content, q)
	if err != nil {
		return nil, err
	}
	eval.Answer = answer
	return eval, nil
}

func parseEvaluation(content string, q dataset.Question) (*Evaluation, error) {
	var raw any
	if err := llm.ParseJSONOutput(content, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}

	var eval Evaluation
	if err := llm.ParseJSONOutput(content, &eval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}

	want := make(map[int]bool, len(q.Split))
	for _, s := range q.Split {
		want[s.ID] = false
	}
	for _, v := range eval.Questions {
		seen, ok := want[v.ID]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected sub-question id %d", ErrResponseInvalid, v.ID)
		}
		if seen {
			return nil, fmt.Errorf("%w: duplicate sub-question id %d", ErrResponseInvalid, v.ID)
		}
		want[v.ID] = true
	}
	for id, seen := range want {
		if !seen {
			return nil, fmt.Errorf("%w: missing sub-question id %d", ErrResponseInvalid, id)
		}
	}

	return &eval, nil
}

// DocumentResult is the judged comparison of one file's golden and RAG
// answers. Pairs holds one entry per successfully judged sub-question;
// Excluded counts sub-question pairs dropped because either side's judging
// failed.
type DocumentResult struct {
	Pairs    []stats.LabeledPair
	Excluded int

	Golden map[int]*Evaluation
	RAG    map[int]*Evaluation
}

// EvaluateDocument judges both answer sets for every core question of one
// file. A question missing an answer on either side, or failing either judge
// call, excludes all its sub-question pairs.
func (j *Judge) EvaluateDocument(ctx context.Context, fileName string, questions []dataset.Question, golden, rag map[int]string) (*DocumentResult, error) {
	res := &DocumentResult{
		Golden: make(map[int]*Evaluation, len(questions)),
		RAG:    make(map[int]*Evaluation, len(questions)),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for _, q := range questions {
		q := q
		g.Go(func() error {
			pairs, goldenEval, ragEval, err := j.evaluateQuestion(gctx, fileName, q, golden, rag)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Question pair excluded from metrics",
					zap.String("file", fileName),
					zap.Int("question_id", q.ID),
					zap.Error(err),
				)
				res.Excluded += len(q.Split)
				return nil
			}
			res.Pairs = append(res.Pairs, pairs...)
			res.Golden[q.ID] = goldenEval
			res.RAG[q.ID] = ragEval
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Document judged",
		zap.String("file", fileName),
		zap.Int("pairs", len(res.Pairs)),
		zap.Int("excluded", res.Excluded),
	)

	return res, nil
}

func (j *Judge) evaluateQuestion(ctx context.Context, fileName string, q dataset.Question, golden, rag map[int]string) ([]stats.LabeledPair, *Evaluation, *Evaluation, error) {
	goldenAnswer, ok := golden[q.ID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no golden answer for question %d", q.ID)
	}
	ragAnswer, ok := rag[q.ID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no rag answer for question %d", q.ID)
	}

	goldenEval, err := j.Evaluate(ctx, q, goldenAnswer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("judging golden answer: %w", err)
	}
	ragEval, err := j.Evaluate(ctx, q, ragAnswer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("judging rag answer: %w", err)
	}

	goldenBy := verdictsByID(goldenEval)
	ragBy := verdictsByID(ragEval)

	pairs := make([]stats.LabeledPair, 0, len(q.Split))
	for _, split := range q.Split {
		pairs = append(pairs, stats.LabeledPair{
			File:        fileName,
			QuestionKey: q.Key(split),
			Golden:      goldenBy[split.ID].Labels(),
			Pred:        ragBy[split.ID].Labels(),
		})
	}

	return pairs, goldenEval, ragEval, nil
}

func verdictsByID(eval *Evaluation) map[int]Verdict {
	m := make(map[int]Verdict, len(eval.Questions))
	for _, v := range eval.Questions {
		m[v.ID] = v
	}
	return m
}

func buildPrompt(q dataset.Question, answer string) string {
	lines := make([]string, 0, len(q.Split))
	for _, s := range q.Split {
		data, _ := json.Marshal(s)
		lines = append(lines, string(data))
	}

	prompt := strings.ReplaceAll(judgePrompt, "%questions%", strings.Join(lines, "\n"))
	return strings.ReplaceAll(prompt, "%answer%", answer)
}

const judgePrompt = `QUESTIONS:
%questions%


ANSWER:
%answer%


You are given a list of one or several questions.
You have to evaluate the answer.
Question text could be complex and contain several questions.

Detect Questions (one or several) in the question text.
For each question in Questions:
    Check if the question is answered AND
    Check if the question requires additional information AND
    Check if the answer is speculative: if answer is speculative due to insufficient context AND
    Detect is_confident: was answer confident or not.


CRITERIA:
is_question_answered -- question has a reasonable answer, supplemented with details.
requires_additional_information -- whether additional information is needed to properly answer
is_speculative -- whether answer is speculative due to insufficient context.
is_confident -- whether answer is confident or not.

Example:
QUESTION: Is Stevens listed as an Approved Manufacturer or is a Substitution Request needed for this?
ANSWER: Yes, "Stevens Industries, Inc." is listed as an approved manufacturer in the document under the acceptable products for casework.

Example above gets is_answered=true, as it matches criteria.

Output format:
` + "```json" + `
{
    "questions": [
        {
            "id": 0
            "question": "Is Stevens an Approved Manufacturer?",
            "answer": "Yes",
            "is_question_answered": boolean,
            "requires_additional_information": boolean,
            "is_speculative": boolean,
            "is_confident": boolean
        }
        ...
    ]
}
` + "```" + `

WHERE:
id: id taken from QUESTIONS section
question: very compact question text
answer: very compact summary of the actual answer

Provide output in a valid machine-readable JSON format.`

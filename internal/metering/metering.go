package metering

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rageval/harness/internal/metrics"
)

// Stage keys used in metering.json. Embedding calls are not metered:
// their cost is negligible next to chat completions.
const (
	StageDatasetCompose = "dataset_compose"
	StageExtraction     = "stage1"
	StageAnswers        = "stage2"
	StageEvaluation     = "stage3"
	StageAnalysis       = "stage4"
)

type Item struct {
	RequestsCnt     int `json:"requests_cnt"`
	MessagesSentCnt int `json:"messages_sent_cnt"`
	TokensIn        int `json:"tokens_in"`
	TokensOut       int `json:"tokens_out"`
}

// Delta is one completed LLM request worth of counters.
type Delta struct {
	Requests     int
	MessagesSent int
	TokensIn     int
	TokensOut    int
}

// Aggregator accumulates per-(stage, model) counters for the lifetime of a
// run. It is the only run-wide mutable state, so all increments are
// serialized here rather than through ambient globals.
type Aggregator struct {
	mu     sync.Mutex
	stages map[string]map[string]*Item
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stages: make(map[string]map[string]*Item),
	}
}

// Add records one completed request. The same counters feed the prometheus
// series scraped while the run executes.
func (a *Aggregator) Add(stage, model string, d Delta) {
	a.merge(stage, model, d)

	metrics.LLMRequests.WithLabelValues(stage, model).Add(float64(d.Requests))
	metrics.LLMTokensUsed.WithLabelValues(stage, model, "input").Add(float64(d.TokensIn))
	metrics.LLMTokensUsed.WithLabelValues(stage, model, "output").Add(float64(d.TokensOut))
}

func (a *Aggregator) merge(stage, model string, d Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	models, ok := a.stages[stage]
	if !ok {
		models = make(map[string]*Item)
		a.stages[stage] = models
	}

	item, ok := models[model]
	if !ok {
		item = &Item{}
		models[model] = item
	}

	item.RequestsCnt += d.Requests
	item.MessagesSentCnt += d.MessagesSent
	item.TokensIn += d.TokensIn
	item.TokensOut += d.TokensOut
}

// Snapshot returns a deep copy safe to serialize while workers keep adding.
func (a *Aggregator) Snapshot() map[string]map[string]Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]map[string]Item, len(a.stages))
	for stage, models := range a.stages {
		out[stage] = make(map[string]Item, len(models))
		for model, item := range models {
			out[stage][model] = *item
		}
	}
	return out
}

// LoadFile merges counters from a previous flush into the aggregator.
// Resumed runs call this so metering.json keeps covering the whole run.
// The prometheus series are not replayed: they count only what this
// process spent.
func (a *Aggregator) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metering file: %w", err)
	}

	var stages map[string]map[string]Item
	if err := json.Unmarshal(data, &stages); err != nil {
		return fmt.Errorf("failed to parse metering file: %w", err)
	}

	for stage, models := range stages {
		for model, item := range models {
			a.merge(stage, model, Delta{
				Requests:     item.RequestsCnt,
				MessagesSent: item.MessagesSentCnt,
				TokensIn:     item.TokensIn,
				TokensOut:    item.TokensOut,
			})
		}
	}
	return nil
}

// WriteFile flushes the accumulated counters once per run into metering.json.
func (a *Aggregator) WriteFile(path string) error {
	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metering: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metering file: %w", err)
	}

	return nil
}

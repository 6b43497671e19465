package run

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rageval/harness/internal/analysis"
	"github.com/rageval/harness/internal/answers"
	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/extraction"
	"github.com/rageval/harness/internal/judge"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/metrics"
	"github.com/rageval/harness/internal/stats"
	"github.com/rageval/harness/internal/storage/models"
	"github.com/rageval/harness/internal/storage/sqlite"
	"github.com/rageval/harness/internal/vector"
	"github.com/rageval/harness/pkg/config"
	"github.com/rageval/harness/pkg/logger"
)

// StageError marks which pipeline stage aborted the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator drives the four stages in order. Each stage commits its
// artifacts before the next starts; a stage failure aborts the run and
// leaves everything written so far in place for inspection.
type Orchestrator struct {
	cfg      *config.Config
	ds       *dataset.Dataset
	db       *sqlite.Client
	chat     llm.Chat
	embedder llm.Embedder
	store    vector.Store
	agg      *metering.Aggregator
	layout   Layout
	details  string

	paragraphs map[string][]extraction.Paragraph
	golden     map[string]map[int]string
	rag        map[string]map[int]*answers.SessionResult
	judged     map[string]*judge.DocumentResult
	evalTexts  map[string][2]string
	results    *stats.Results
	passed     map[string]map[string]bool
}

func NewOrchestrator(
	cfg *config.Config,
	ds *dataset.Dataset,
	db *sqlite.Client,
	chat llm.Chat,
	embedder llm.Embedder,
	store vector.Store,
	agg *metering.Aggregator,
	layout Layout,
	details string,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		ds:       ds,
		db:       db,
		chat:     chat,
		embedder: embedder,
		store:    store,
		agg:      agg,
		layout:   layout,
		details:  details,

		paragraphs: make(map[string][]extraction.Paragraph),
		golden:     make(map[string]map[int]string),
		rag:        make(map[string]map[int]*answers.SessionResult),
		judged:     make(map[string]*judge.DocumentResult),
		evalTexts:  make(map[string][2]string),
	}
}

// Run executes the pipeline end to end. metering.json is written even when a
// stage fails, covering everything metered up to the failure.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	fileNames := make([]string, len(o.ds.Files))
	for i, f := range o.ds.Files {
		fileNames[i] = f.Name
	}

	md, mdErr := dataset.Validate(o.ds)
	if mdErr != nil {
		return mdErr
	}

	completed, err := o.prepareRun(md, fileNames)
	if err != nil {
		return err
	}

	defer func() {
		if werr := o.agg.WriteFile(o.layout.MeteringFile()); werr != nil {
			logger.Error("Failed to write metering", zap.Error(werr))
			if err == nil {
				err = werr
			}
		}
	}()

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{metering.StageExtraction, o.runExtraction},
		{metering.StageAnswers, o.runAnswers},
		{metering.StageEvaluation, o.runEvaluation},
		{metering.StageAnalysis, o.runAnalysis},
	}

	for _, stage := range stages {
		if completed[stage.name] {
			logger.Info("Stage already completed, restoring outputs",
				zap.String("stage", stage.name),
			)
			if err := o.restoreStage(stage.name); err != nil {
				return &StageError{Stage: stage.name, Err: err}
			}
			continue
		}
		if err := o.runStage(ctx, stage.name, stage.fn); err != nil {
			return err
		}
	}

	logger.Info("Run completed",
		zap.String("run_id", o.layout.RunID()),
		zap.String("run_dir", o.layout.Root),
	)

	return nil
}

// prepareRun records a fresh run, or attaches to an existing one and reports
// which stages it already completed. A recorded run must have been made
// against the same dataset fingerprint.
func (o *Orchestrator) prepareRun(md *dataset.Metadata, fileNames []string) (map[string]bool, error) {
	existing, err := o.db.GetRun(o.layout.RunID())
	if errors.Is(err, sqlite.ErrRunNotFound) {
		if err := o.db.InsertRun(&models.Run{
			ID:                 o.layout.RunID(),
			DatasetName:        o.ds.Name,
			DatasetFingerprint: md.Fingerprint(),
			RunDir:             o.layout.Root,
			CreatedAt:          time.Now(),
		}); err != nil {
			return nil, err
		}

		if err := WriteParams(o.layout, Params{
			Description:   o.details,
			VectorBackend: o.cfg.Vector.Backend,
			ChatModel:     o.cfg.LLM.ChatModel,
			JudgeModel:    o.cfg.LLM.JudgeModel,
			AnalyseModel:  o.cfg.LLM.AnalyseModel,
			EvalDocuments: fileNames,
		}, o.ds.Questions); err != nil {
			return nil, err
		}

		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.DatasetFingerprint != md.Fingerprint() {
		return nil, fmt.Errorf("%w: run %s was recorded against a different dataset",
			dataset.ErrDatasetChanged, existing.ID)
	}

	stages, err := o.db.GetStages(existing.ID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Status == models.StageCompleted {
			completed[s.Stage] = true
		}
	}

	if err := o.agg.LoadFile(o.layout.MeteringFile()); err != nil {
		logger.Warn("No prior metering carried over", zap.Error(err))
	}

	logger.Info("Resuming run",
		zap.String("run_id", existing.ID),
		zap.Int("completed_stages", len(completed)),
	)
	return completed, nil
}

func (o *Orchestrator) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	started := time.Now()
	logger.Info("Stage started", zap.String("stage", name))

	if perr := o.db.UpsertStage(&models.RunStage{
		RunID:     o.layout.RunID(),
		Stage:     name,
		Status:    models.StageRunning,
		StartedAt: started,
	}); perr != nil {
		return &StageError{Stage: name, Err: fmt.Errorf("failed to persist stage status: %w", perr)}
	}

	err := fn(ctx)
	elapsed := time.Since(started)
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	stage := &models.RunStage{
		RunID:      o.layout.RunID(),
		Stage:      name,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		stage.Status = models.StageFailed
		stage.Error = err.Error()
		// The stage error is what aborts the run; a status-persist failure
		// on top of it is only logged.
		if perr := o.db.UpsertStage(stage); perr != nil {
			logger.Error("Failed to persist stage status",
				zap.String("stage", name),
				zap.Error(perr),
			)
		}
		metrics.StageTotal.WithLabelValues(name, "failed").Inc()
		return &StageError{Stage: name, Err: err}
	}

	// The completed row is the resume gate; a stage whose status did not
	// persist is not complete.
	stage.Status = models.StageCompleted
	if perr := o.db.UpsertStage(stage); perr != nil {
		metrics.StageTotal.WithLabelValues(name, "failed").Inc()
		return &StageError{Stage: name, Err: fmt.Errorf("stage finished but its status could not be persisted: %w", perr)}
	}
	metrics.StageTotal.WithLabelValues(name, "completed").Inc()

	logger.Info("Stage completed",
		zap.String("stage", name),
		zap.Duration("elapsed", elapsed),
	)

	return nil
}

func (o *Orchestrator) runExtraction(ctx context.Context) error {
	processor := extraction.NewProcessor(o.embedder, o.store, o.cfg.Eval.ChatConcurrency)

	res, err := processor.ProcessFiles(ctx, o.ds.Files,
		o.layout.ParagraphsRawDir(), o.layout.ParagraphsReadableDir())
	if err != nil {
		return err
	}

	// Per-file failures are recorded, not fatal: downstream stages run on
	// whatever extracted.
	for name, ferr := range res.Errors {
		logger.Warn("File dropped from run",
			zap.String("file", name),
			zap.Error(ferr),
		)
	}
	if len(res.Paragraphs) == 0 {
		return fmt.Errorf("no file extracted successfully")
	}

	for _, pars := range res.Paragraphs {
		metrics.ParagraphsExtracted.Observe(float64(len(pars)))
	}
	metrics.DocumentsProcessed.Add(float64(len(res.Paragraphs)))

	o.paragraphs = res.Paragraphs
	return nil
}

// extractedFiles preserves dataset order, restricted to files stage 1
// produced paragraphs for.
func (o *Orchestrator) extractedFiles() []dataset.File {
	files := make([]dataset.File, 0, len(o.paragraphs))
	for _, f := range o.ds.Files {
		if _, ok := o.paragraphs[f.Name]; ok {
			files = append(files, f)
		}
	}
	return files
}

func (o *Orchestrator) runAnswers(ctx context.Context) error {
	goldenGen := answers.NewGoldenGenerator(o.chat, o.cfg.LLM.ChatModel, o.agg, o.cfg.Eval.ChatConcurrency)
	ragGen := answers.NewRAGGenerator(o.chat, o.embedder, o.store, o.cfg.LLM.ChatModel,
		o.agg, o.cfg.Vector.TopK, o.cfg.Eval.ChatConcurrency)

	for _, file := range o.extractedFiles() {
		docText := extraction.FullText(o.paragraphs[file.Name])

		golden, err := goldenGen.Generate(ctx, file.Name, docText, o.ds.Questions)
		if err != nil {
			return err
		}
		if err := WriteGoldenAnswers(o.layout, file.Name, golden, o.ds.Questions); err != nil {
			return err
		}
		o.golden[file.Name] = golden

		rag, err := ragGen.Generate(ctx, file, o.ds.Questions)
		if err != nil {
			return err
		}
		if err := WriteRAGAnswers(o.layout, file.Name, rag, o.ds.Questions); err != nil {
			return err
		}
		o.rag[file.Name] = rag

		if err := o.persistAnswers(file, golden, rag); err != nil {
			return err
		}
	}

	return nil
}

// persistAnswers records every answer row; resume rebuilds the answer maps
// from these rows, so a row that fails to insert fails the stage.
func (o *Orchestrator) persistAnswers(file dataset.File, golden map[int]string, rag map[int]*answers.SessionResult) error {
	now := time.Now()
	for id, text := range golden {
		if err := o.db.InsertAnswer(&models.Answer{
			RunID:       o.layout.RunID(),
			FileID:      file.ID,
			FileName:    file.Name,
			QuestionKey: strconv.Itoa(id),
			Kind:        models.AnswerKindGolden,
			Text:        text,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("failed to persist golden answer %d for %s: %w", id, file.Name, err)
		}
	}
	for id, res := range rag {
		if res.Forced {
			metrics.ForcedAnswers.Inc()
		}
		if err := o.db.InsertAnswer(&models.Answer{
			RunID:       o.layout.RunID(),
			FileID:      file.ID,
			FileName:    file.Name,
			QuestionKey: strconv.Itoa(id),
			Kind:        models.AnswerKindRAG,
			Text:        res.Answer,
			Forced:      res.Forced,
			Iterations:  res.Iterations,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("failed to persist rag answer %d for %s: %w", id, file.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runEvaluation(ctx context.Context) error {
	j := judge.NewJudge(o.chat, o.cfg.LLM.JudgeModel, o.agg, o.cfg.Eval.JudgeConcurrency)

	var allPairs []stats.LabeledPair
	excluded := 0

	for _, file := range o.extractedFiles() {
		ragFinal := make(map[int]string, len(o.rag[file.Name]))
		for id, res := range o.rag[file.Name] {
			ragFinal[id] = res.Answer
		}

		docRes, err := j.EvaluateDocument(ctx, file.Name, o.ds.Questions, o.golden[file.Name], ragFinal)
		if err != nil {
			return err
		}

		goldenText, ragText, err := WriteJudgeEvals(o.layout, file.Name, docRes, o.ds.Questions)
		if err != nil {
			return err
		}

		o.judged[file.Name] = docRes
		o.evalTexts[file.Name] = [2]string{goldenText, ragText}
		allPairs = append(allPairs, docRes.Pairs...)
		excluded += docRes.Excluded

		if err := o.persistLabels(file, docRes); err != nil {
			return err
		}
	}

	metrics.JudgeExclusions.Add(float64(excluded))

	if len(allPairs) == 0 {
		return fmt.Errorf("every sub-question pair was excluded, nothing to score")
	}

	b := stats.NewBootstrap(o.cfg.Eval.BootstrapSamples, o.cfg.Eval.BootstrapSeed)
	o.results = stats.Compute(stats.Collect(allPairs), b)
	o.results.Excluded = excluded
	o.passed = stats.PassedOverall(allPairs)

	return WriteMetrics(o.layout, o.results, o.passed)
}

func (o *Orchestrator) persistLabels(file dataset.File, docRes *judge.DocumentResult) error {
	now := time.Now()
	for _, p := range docRes.Pairs {
		if err := o.db.InsertJudgeLabel(&models.JudgeLabel{
			RunID:        o.layout.RunID(),
			FileID:       file.ID,
			QuestionKey:  p.QuestionKey,
			Kind:         models.AnswerKindGolden,
			Answered:     p.Golden.Answered,
			RequiresMore: p.Golden.RequiresMore,
			Speculative:  p.Golden.Speculative,
			Confident:    p.Golden.Confident,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to persist golden label %s for %s: %w", p.QuestionKey, file.Name, err)
		}
		if err := o.db.InsertJudgeLabel(&models.JudgeLabel{
			RunID:        o.layout.RunID(),
			FileID:       file.ID,
			QuestionKey:  p.QuestionKey,
			Kind:         models.AnswerKindRAG,
			Answered:     p.Pred.Answered,
			RequiresMore: p.Pred.RequiresMore,
			Speculative:  p.Pred.Speculative,
			Confident:    p.Pred.Confident,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to persist rag label %s for %s: %w", p.QuestionKey, file.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context) error {
	analyzer := analysis.NewAnalyzer(o.chat, o.cfg.LLM.AnalyseModel, o.agg, o.cfg.Eval.JudgeConcurrency)

	var inputs []analysis.FileInput
	for _, file := range o.extractedFiles() {
		texts, ok := o.evalTexts[file.Name]
		if !ok {
			continue
		}
		inputs = append(inputs, analysis.FileInput{
			FileName:      file.Name,
			GoldenEvals:   texts[0],
			RAGEvals:      texts[1],
			PassedOverall: o.passed[file.Name],
			Comprehensive: o.results.PerFile[file.Name].Comprehensive,
		})
	}

	reports, err := analyzer.Analyse(ctx, inputs)
	if err != nil {
		return err
	}

	for fileName, report := range reports {
		if err := WriteAnalysis(o.layout, fileName, report.Report, report.UserMessage); err != nil {
			return err
		}
	}

	return nil
}

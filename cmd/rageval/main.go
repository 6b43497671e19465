package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rageval/harness/internal/dataset"
	"github.com/rageval/harness/internal/diag"
	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/metrics"
	"github.com/rageval/harness/internal/run"
	"github.com/rageval/harness/internal/storage/sqlite"
	"github.com/rageval/harness/internal/vector"
	"github.com/rageval/harness/pkg/config"
	appLogger "github.com/rageval/harness/pkg/logger"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rageval",
		Short:         "RAG evaluation harness",
		Long:          "Runs a four-stage evaluation pipeline comparing tool-loop RAG answers against full-context golden answers over a fixed PDF dataset.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var (
		datasetDir string
		details    string
		listenAddr string
		resumeID   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one evaluation run over the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), datasetDir, details, listenAddr, resumeID, verbose)
		},
	}

	cmd.Flags().StringVar(&datasetDir, "dataset", "", "dataset directory (overrides config)")
	cmd.Flags().StringVar(&details, "details", "", "free-form run description stored in params.json")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "diagnostics listen address (overrides config)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume an existing run directory, e.g. 0003")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func runEval(ctx context.Context, datasetDir, details, listenAddr, resumeID string, verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return err
	}
	if datasetDir != "" {
		cfg.Dataset.Dir = datasetDir
	}
	if listenAddr != "" {
		cfg.Diag.ListenAddr = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := appLogger.Init(level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return err
	}
	defer appLogger.Sync()

	metrics.Init()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Error("Failed to create SQLite client", zap.Error(err))
		return err
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		appLogger.Error("Failed to initialize schema", zap.Error(err))
		return err
	}

	store, err := newVectorStore(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to create vector store", zap.Error(err))
		return err
	}
	defer store.Close()

	llmClient := llm.NewClient(
		cfg.LLM.Endpoint,
		cfg.LLM.APIKey,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	agg := metering.NewAggregator()

	if err := dataset.CreateSplitIfMissing(ctx, llmClient, cfg.LLM.ChatModel, agg, cfg.Dataset.Dir); err != nil {
		appLogger.Error("Failed to compose question split", zap.Error(err))
		return err
	}

	ds, err := dataset.Load(cfg.Dataset.Dir)
	if err != nil {
		appLogger.Error("Failed to load dataset", zap.Error(err))
		return err
	}

	server := diag.NewServer(cfg.Diag.ListenAddr)
	server.Start()
	defer server.Shutdown()

	var layout run.Layout
	if resumeID != "" {
		layout, err = run.AttachRunDir(cfg.Runs.Dir, resumeID)
	} else {
		layout, err = run.NextRunDir(cfg.Runs.Dir)
	}
	if err != nil {
		appLogger.Error("Failed to open run directory", zap.Error(err))
		return err
	}

	orch := run.NewOrchestrator(cfg, ds, db, llmClient, llmClient, store, agg, layout, details)
	if err := orch.Run(ctx); err != nil {
		appLogger.Error("Run aborted", zap.Error(err))
		return err
	}

	fmt.Printf("Run %s completed: %s\n", layout.RunID(), layout.Root)
	return nil
}

func newVectorStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Backend {
	case "milvus":
		return vector.NewMilvusStore(ctx, cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	case "redis":
		return vector.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Dataset DatasetConfig
	Runs    RunsConfig
	SQLite  SQLiteConfig
	Vector  VectorConfig
	Milvus  MilvusConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Eval    EvalConfig
	Diag    DiagConfig
	Logging LoggingConfig
}

type DatasetConfig struct {
	Dir string
}

type RunsConfig struct {
	Dir string
}

type SQLiteConfig struct {
	Path string
}

// VectorConfig selects which vector backend stage 1 writes to and
// the RAG tool reads from.
type VectorConfig struct {
	Backend string // "milvus" or "redis"
	TopK    int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Endpoint       string
	APIKey         string
	ChatModel      string
	JudgeModel     string
	AnalyseModel   string
	EmbeddingModel string
	EmbeddingDim   int
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type EvalConfig struct {
	ChatConcurrency  int
	JudgeConcurrency int
	BootstrapSamples int
	BootstrapSeed    int64
}

type DiagConfig struct {
	ListenAddr string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ragexperiment")

	viper.SetEnvPrefix("RAGEVAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required")
	}
	switch c.Vector.Backend {
	case "milvus", "redis":
	default:
		return fmt.Errorf("vector.backend must be milvus or redis, got %q", c.Vector.Backend)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("dataset.dir", "./dataset")
	viper.SetDefault("runs.dir", "./evaluations")

	viper.SetDefault("sqlite.path", "./data/ragexperiment.db")

	viper.SetDefault("vector.backend", "milvus")
	viper.SetDefault("vector.topK", 10)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "eval_paragraphs")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("llm.chatModel", "gpt-4o")
	viper.SetDefault("llm.judgeModel", "gpt-4o")
	viper.SetDefault("llm.analyseModel", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 120)

	viper.SetDefault("eval.chatConcurrency", 8)
	viper.SetDefault("eval.judgeConcurrency", 5)
	viper.SetDefault("eval.bootstrapSamples", 2000)
	viper.SetDefault("eval.bootstrapSeed", 1)

	viper.SetDefault("diag.listenAddr", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

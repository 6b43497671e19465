package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rageval/harness/pkg/logger"
)

// RedisStore keeps embedded paragraphs in per-file lists. The corpus is a
// handful of PDFs, so search scans the file's list and scores in process
// instead of relying on a server-side vector index.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis vector store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func fileKey(fileID string) string {
	return fmt.Sprintf("paragraphs:%s", fileID)
}

func (r *RedisStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal paragraph: %w", err)
		}
		pipe.RPush(ctx, fileKey(rec.FileID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert paragraphs: %w", err)
	}

	logger.Info("Paragraphs inserted into redis", zap.Int("count", len(records)))
	return nil
}

func (r *RedisStore) Search(ctx context.Context, fileID string, query []float32, topK int) ([]SearchResult, error) {
	rows, err := r.client.LRange(ctx, fileKey(fileID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load paragraphs: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		var rec Record
		if err := json.Unmarshal([]byte(row), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal paragraph: %w", err)
		}
		results = append(results, SearchResult{
			ParagraphID: rec.ParagraphID,
			Text:        rec.Text,
			Page:        rec.Page,
			Score:       cosineSimilarity(query, rec.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	logger.Debug("Vector search completed",
		zap.String("file_id", fileID),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

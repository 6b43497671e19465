package vector

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/rageval/harness/pkg/logger"
)

type MilvusStore struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewMilvusStore(ctx context.Context, endpoint, collectionName string, vectorDim int) (*MilvusStore, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	s := &MilvusStore{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}
	if err := s.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return s, nil
}

func (m *MilvusStore) Close() error {
	return m.client.Close()
}

func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document paragraph embeddings",
		Fields: []*entity.Field{
			{
				Name:       "paragraph_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "file_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "file_name",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "page_n",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "idx",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16384",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *MilvusStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	paragraphIDs := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	fileIDs := make([]string, len(records))
	fileNames := make([]string, len(records))
	pages := make([]int64, len(records))
	indexes := make([]int64, len(records))
	texts := make([]string, len(records))

	for i, r := range records {
		paragraphIDs[i] = r.ParagraphID
		embeddings[i] = r.Embedding
		fileIDs[i] = r.FileID
		fileNames[i] = r.FileName
		pages[i] = int64(r.Page)
		indexes[i] = int64(r.Index)
		texts[i] = r.Text
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("paragraph_id", paragraphIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("file_id", fileIDs),
		entity.NewColumnVarChar("file_name", fileNames),
		entity.NewColumnInt64("page_n", pages),
		entity.NewColumnInt64("idx", indexes),
		entity.NewColumnVarChar("text", texts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert paragraphs: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Paragraphs inserted into vector DB", zap.Int("count", len(records)))

	return nil
}

func (m *MilvusStore) Search(ctx context.Context, fileID string, query []float32, topK int) ([]SearchResult, error) {
	expr := fmt.Sprintf(`file_id == "%s"`, fileID)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"paragraph_id", "text", "page_n"},
		[]entity.Vector{entity.FloatVector(query)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		paragraphIDCol := sr.Fields.GetColumn("paragraph_id")
		textCol := sr.Fields.GetColumn("text")
		pageCol := sr.Fields.GetColumn("page_n")

		for i := 0; i < sr.ResultCount; i++ {
			paragraphID, _ := paragraphIDCol.Get(i)
			text, _ := textCol.Get(i)
			page, _ := pageCol.Get(i)

			results = append(results, SearchResult{
				ParagraphID: paragraphID.(string),
				Text:        text.(string),
				Page:        int(page.(int64)),
				Score:       sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.String("file_id", fileID),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

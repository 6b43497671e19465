package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rageval/harness/pkg/logger"
	"github.com/rageval/harness/pkg/utils"
)

// Metadata is the recorded dataset fingerprint: the hash of both question
// files plus a content checksum per PDF. Once written, every later run
// against the same dataset directory must reproduce it exactly.
type Metadata struct {
	QuestionsHash      string            `json:"questions_str_hash"`
	QuestionsSplitHash string            `json:"questions_split_hash"`
	FileChecksums      map[string]string `json:"file_checksums"`
	CreatedTS          time.Time         `json:"created_ts"`
}

// Fingerprint is a single md5 over the metadata's content fields, stable
// under map ordering.
func (m *Metadata) Fingerprint() string {
	names := make([]string, 0, len(m.FileChecksums))
	for name := range m.FileChecksums {
		names = append(names, name)
	}
	sort.Strings(names)

	s := m.QuestionsHash + "\n" + m.QuestionsSplitHash + "\n"
	for _, name := range names {
		s += name + "=" + m.FileChecksums[name] + "\n"
	}
	return utils.HashString(s)
}

func computeMetadata(dir string, files []File) (*Metadata, error) {
	questionsHash, err := utils.HashFile(filepath.Join(dir, QuestionsFile))
	if err != nil {
		return nil, err
	}

	splitHash, err := utils.HashFile(filepath.Join(dir, QuestionsSplitFile))
	if err != nil {
		return nil, err
	}

	checksums := make(map[string]string, len(files))
	for _, f := range files {
		sum, err := utils.HashFile(f.Path)
		if err != nil {
			return nil, err
		}
		checksums[f.Name] = sum
	}

	return &Metadata{
		QuestionsHash:      questionsHash,
		QuestionsSplitHash: splitHash,
		FileChecksums:      checksums,
		CreatedTS:          time.Now(),
	}, nil
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", MetadataFile, err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid JSON: %v", ErrDatasetMalformed, MetadataFile, err)
	}
	return &m, nil
}

func writeMetadata(dir string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0644)
}

// Validate enforces dataset immutability. On first use the fingerprint is
// recorded; on every later use the recomputed fingerprint must match
// exactly, otherwise ErrDatasetChanged. There is no partial repair: the
// operator restores the dataset or deletes the metadata file on purpose.
func Validate(d *Dataset) (*Metadata, error) {
	current, err := computeMetadata(d.Dir, d.Files)
	if err != nil {
		return nil, err
	}

	recorded, err := readMetadata(d.Dir)
	if err != nil {
		return nil, err
	}

	if recorded == nil {
		if err := writeMetadata(d.Dir, current); err != nil {
			return nil, fmt.Errorf("failed to record dataset metadata: %w", err)
		}
		logger.Info("Dataset fingerprint recorded",
			zap.String("dataset", d.Name),
			zap.String("fingerprint", current.Fingerprint()),
		)
		return current, nil
	}

	if recorded.Fingerprint() != current.Fingerprint() {
		return nil, fmt.Errorf("%w: questions or files changed since the fingerprint was recorded; "+
			"restore the dataset or remove %s to start over", ErrDatasetChanged, MetadataFile)
	}

	logger.Info("Dataset fingerprint verified",
		zap.String("dataset", d.Name),
		zap.String("fingerprint", current.Fingerprint()),
	)

	return current, nil
}

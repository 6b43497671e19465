package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rageval/harness/internal/storage/models"
	"github.com/rageval/harness/pkg/logger"
)

// ErrRunNotFound is returned by GetRun for an id with no recorded run.
var ErrRunNotFound = errors.New("run not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		dataset_name TEXT NOT NULL,
		dataset_fingerprint TEXT NOT NULL,
		run_dir TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_name);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS run_stages (
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		error TEXT,
		PRIMARY KEY (run_id, stage),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		question_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		answer TEXT NOT NULL,
		forced INTEGER DEFAULT 0,
		iterations INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_answers_run ON answers(run_id);
	CREATE INDEX IF NOT EXISTS idx_answers_file ON answers(file_id);

	CREATE TABLE IF NOT EXISTS judge_labels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		question_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_question_answered INTEGER NOT NULL,
		requires_additional_information INTEGER NOT NULL,
		is_speculative INTEGER NOT NULL,
		is_confident INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_labels_run ON judge_labels(run_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRun(run *models.Run) error {
	query := `INSERT INTO runs (id, dataset_name, dataset_fingerprint, run_dir, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.DatasetName,
		run.DatasetFingerprint,
		run.RunDir,
		run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Info("Run recorded",
		zap.String("run_id", run.ID),
		zap.String("run_dir", run.RunDir),
	)
	return nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	query := `SELECT id, dataset_name, dataset_fingerprint, run_dir, created_at FROM runs WHERE id = ?`

	var run models.Run
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&run.ID,
		&run.DatasetName,
		&run.DatasetFingerprint,
		&run.RunDir,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.CreatedAt = time.Unix(createdAt, 0)
	return &run, nil
}

func (c *Client) UpsertStage(stage *models.RunStage) error {
	query := `
		INSERT INTO run_stages (run_id, stage, status, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, stage) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			error = excluded.error
	`

	var started, finished int64
	if !stage.StartedAt.IsZero() {
		started = stage.StartedAt.Unix()
	}
	if !stage.FinishedAt.IsZero() {
		finished = stage.FinishedAt.Unix()
	}

	_, err := c.db.Exec(
		query,
		stage.RunID,
		stage.Stage,
		string(stage.Status),
		started,
		finished,
		stage.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stage: %w", err)
	}

	return nil
}

func (c *Client) GetStages(runID string) ([]models.RunStage, error) {
	query := `SELECT run_id, stage, status, started_at, finished_at, error FROM run_stages WHERE run_id = ?`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stages: %w", err)
	}
	defer rows.Close()

	var stages []models.RunStage
	for rows.Next() {
		var s models.RunStage
		var status string
		var started, finished int64

		err := rows.Scan(&s.RunID, &s.Stage, &status, &started, &finished, &s.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.Status = models.StageStatus(status)
		if started > 0 {
			s.StartedAt = time.Unix(started, 0)
		}
		if finished > 0 {
			s.FinishedAt = time.Unix(finished, 0)
		}
		stages = append(stages, s)
	}

	return stages, rows.Err()
}

func (c *Client) InsertAnswer(a *models.Answer) error {
	query := `
		INSERT INTO answers (run_id, file_id, file_name, question_key, kind, answer, forced, iterations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	forced := 0
	if a.Forced {
		forced = 1
	}

	_, err := c.db.Exec(
		query,
		a.RunID,
		a.FileID,
		a.FileName,
		a.QuestionKey,
		a.Kind,
		a.Text,
		forced,
		a.Iterations,
		a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert answer: %w", err)
	}

	return nil
}

func (c *Client) GetAnswers(runID, kind string) ([]models.Answer, error) {
	query := `
		SELECT run_id, file_id, file_name, question_key, kind, answer, forced, iterations, created_at
		FROM answers
		WHERE run_id = ? AND kind = ?
		ORDER BY file_name, question_key
	`

	rows, err := c.db.Query(query, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var a models.Answer
		var forced int
		var createdAt int64

		err := rows.Scan(&a.RunID, &a.FileID, &a.FileName, &a.QuestionKey, &a.Kind, &a.Text, &forced, &a.Iterations, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Forced = forced != 0
		a.CreatedAt = time.Unix(createdAt, 0)
		answers = append(answers, a)
	}

	return answers, rows.Err()
}

func (c *Client) InsertJudgeLabel(l *models.JudgeLabel) error {
	query := `
		INSERT INTO judge_labels (run_id, file_id, question_key, kind,
			is_question_answered, requires_additional_information, is_speculative, is_confident, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	b2i := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}

	_, err := c.db.Exec(
		query,
		l.RunID,
		l.FileID,
		l.QuestionKey,
		l.Kind,
		b2i(l.Answered),
		b2i(l.RequiresMore),
		b2i(l.Speculative),
		b2i(l.Confident),
		l.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert judge label: %w", err)
	}

	return nil
}

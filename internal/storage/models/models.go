package models

import "time"

// Run is one evaluation run over a dataset. RunDir is the numbered
// directory holding every artifact the run produced.
type Run struct {
	ID                 string
	DatasetName        string
	DatasetFingerprint string
	RunDir             string
	CreatedAt          time.Time
}

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

type RunStage struct {
	RunID      string
	Stage      string
	Status     StageStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

const (
	AnswerKindGolden = "golden"
	AnswerKindRAG    = "rag"
)

type Answer struct {
	RunID       string
	FileID      string
	FileName    string
	QuestionKey string
	Kind        string
	Text        string
	Forced      bool
	Iterations  int
	CreatedAt   time.Time
}

type JudgeLabel struct {
	RunID        string
	FileID       string
	QuestionKey  string
	Kind         string
	Answered     bool
	RequiresMore bool
	Speculative  bool
	Confident    bool
	CreatedAt    time.Time
}

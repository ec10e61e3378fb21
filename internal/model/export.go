package model

import "time"

// BatchExport is the top-level structure for exporting a stored batch.
type BatchExport struct {
	BatchID        string            `json:"batch_id" yaml:"batch_id"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
	EmbeddingModel string            `json:"embedding_model" yaml:"embedding_model"`
	NumQuestions   int               `json:"num_questions" yaml:"num_questions"`
	Scores         []ScoreRow        `json:"scores" yaml:"scores"`
	Questions      []QuestionExport  `json:"questions" yaml:"questions"`
	Integrity      IntegrityReport   `json:"integrity" yaml:"integrity"`
	Insights       []QuestionInsight `json:"insights" yaml:"insights"`
}

// QuestionExport holds one student's per-question score for export.
type QuestionExport struct {
	Student string  `json:"student" yaml:"student"`
	QID     string  `json:"qid" yaml:"qid"`
	Score   float64 `json:"score" yaml:"score"`
}

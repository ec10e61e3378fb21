package store

import (
	"database/sql"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportBatch builds the export document for a stored batch. A missing
// batch yields an error wrapping sql.ErrNoRows.
func (s *Store) ExportBatch(id string) (model.BatchExport, error) {
	b, err := s.GetBatch(id)
	if err != nil {
		return model.BatchExport{}, fmt.Errorf("get batch %s: %w", id, err)
	}
	if b == nil {
		return model.BatchExport{}, fmt.Errorf("batch %s not found: %w", id, sql.ErrNoRows)
	}

	questions, err := s.questionScores(id)
	if err != nil {
		return model.BatchExport{}, fmt.Errorf("question scores: %w", err)
	}

	return model.BatchExport{
		BatchID:        b.ID,
		CreatedAt:      b.CreatedAt,
		EmbeddingModel: b.EmbeddingModel,
		NumQuestions:   len(b.Rubric.Questions),
		Scores:         b.Scores(),
		Questions:      questions,
		Integrity:      b.Integrity,
		Insights:       b.Insights,
	}, nil
}

func (s *Store) questionScores(batchID string) ([]model.QuestionExport, error) {
	rows, err := s.db.Query(
		`SELECT q.student, q.qid, q.score FROM question_scores q
		 JOIN student_results r ON r.batch_id = q.batch_id AND r.student = q.student
		 WHERE q.batch_id = ? ORDER BY r.position, q.position`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []model.QuestionExport{}
	for rows.Next() {
		var q model.QuestionExport
		if err := rows.Scan(&q.Student, &q.QID, &q.Score); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

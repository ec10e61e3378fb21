package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/assessor/internal/model"

	_ "modernc.org/sqlite"
)

// MetaLastBatch is the metadata key holding the most recently saved batch id.
const MetaLastBatch = "last_batch_id"

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		embedding_model TEXT NOT NULL DEFAULT '',
		rubric_source TEXT NOT NULL,
		rubric_json TEXT NOT NULL,
		insights_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS student_results (
		batch_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		student TEXT NOT NULL,
		representative_text TEXT NOT NULL,
		total REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		result_json TEXT NOT NULL,
		PRIMARY KEY (batch_id, student),
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS question_scores (
		batch_id TEXT NOT NULL,
		student TEXT NOT NULL,
		qid TEXT NOT NULL,
		position INTEGER NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (batch_id, student, qid),
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS lexical_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		student_1 TEXT NOT NULL,
		student_2 TEXT NOT NULL,
		similarity REAL NOT NULL,
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS duplicate_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		student_1 TEXT NOT NULL,
		student_2 TEXT NOT NULL,
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS peer_flags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		student TEXT NOT NULL,
		similar_to TEXT NOT NULL DEFAULT '',
		semantic_similarity REAL NOT NULL DEFAULT 0,
		student_marks REAL NOT NULL DEFAULT 0,
		peer_marks REAL,
		mark_gap REAL NOT NULL DEFAULT 0,
		recommendation TEXT NOT NULL DEFAULT 'none',
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS api_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		prefix TEXT NOT NULL UNIQUE,
		token_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBatch stores a complete batch in one transaction and records it as the
// most recent batch.
func (s *Store) SaveBatch(b *model.Batch) error {
	rubricJSON, err := json.Marshal(b.Rubric)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}
	insights := b.Insights
	if insights == nil {
		insights = []model.QuestionInsight{}
	}
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO batches (id, created_at, embedding_model, rubric_source, rubric_json, insights_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedAt, b.EmbeddingModel, b.RubricSource, string(rubricJSON), string(insightsJSON),
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for i, st := range b.Students {
		resultJSON, err := json.Marshal(st.Result)
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", st.Student, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO student_results (batch_id, position, student, representative_text, total, error, result_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, i, st.Student, st.RepresentativeText, st.Result.Total, st.Result.Error, string(resultJSON),
		); err != nil {
			return fmt.Errorf("insert result %s: %w", st.Student, err)
		}
		for j, q := range st.Result.Questions {
			if _, err := tx.Exec(
				`INSERT INTO question_scores (batch_id, student, qid, position, score) VALUES (?, ?, ?, ?, ?)`,
				b.ID, st.Student, q.QID, j, q.Score,
			); err != nil {
				return fmt.Errorf("insert score %s/%s: %w", st.Student, q.QID, err)
			}
		}
	}

	for _, p := range b.Integrity.Lexical {
		if _, err := tx.Exec(
			`INSERT INTO lexical_pairs (batch_id, student_1, student_2, similarity) VALUES (?, ?, ?, ?)`,
			b.ID, p.Student1, p.Student2, p.Similarity,
		); err != nil {
			return fmt.Errorf("insert lexical pair: %w", err)
		}
	}
	for _, p := range b.Integrity.Duplicates {
		if _, err := tx.Exec(
			`INSERT INTO duplicate_pairs (batch_id, student_1, student_2) VALUES (?, ?, ?)`,
			b.ID, p.Student1, p.Student2,
		); err != nil {
			return fmt.Errorf("insert duplicate pair: %w", err)
		}
	}
	for _, f := range b.Integrity.Peers {
		if _, err := tx.Exec(
			`INSERT INTO peer_flags (batch_id, student, similar_to, semantic_similarity, student_marks, peer_marks, mark_gap, recommendation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, f.Student, f.SimilarTo, f.SemanticSimilarity, f.StudentMarks, f.PeerMarks, f.MarkGap, f.Recommendation,
		); err != nil {
			return fmt.Errorf("insert peer flag: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		MetaLastBatch, b.ID, b.ID,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("saved batch", "id", b.ID, "students", len(b.Students))
	return nil
}

// GetBatch loads a stored batch. It returns nil and no error if the batch does
// not exist.
func (s *Store) GetBatch(id string) (*model.Batch, error) {
	var b model.Batch
	var rubricJSON, insightsJSON string
	err := s.db.QueryRow(
		`SELECT id, created_at, embedding_model, rubric_source, rubric_json, insights_json
		 FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.CreatedAt, &b.EmbeddingModel, &b.RubricSource, &rubricJSON, &insightsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rubricJSON), &b.Rubric); err != nil {
		return nil, fmt.Errorf("decode rubric: %w", err)
	}
	if err := json.Unmarshal([]byte(insightsJSON), &b.Insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	if b.Students, err = s.studentResults(id); err != nil {
		return nil, err
	}
	if b.Integrity, err = s.integrity(id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) studentResults(batchID string) ([]model.StudentResult, error) {
	rows, err := s.db.Query(
		`SELECT student, representative_text, result_json FROM student_results
		 WHERE batch_id = ? ORDER BY position`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []model.StudentResult{}
	for rows.Next() {
		var r model.StudentResult
		var resultJSON string
		if err := rows.Scan(&r.Student, &r.RepresentativeText, &resultJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", r.Student, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) integrity(batchID string) (model.IntegrityReport, error) {
	report := model.IntegrityReport{
		Lexical:    []model.LexicalPair{},
		Duplicates: []model.DuplicatePair{},
		Peers:      []model.PeerFlag{},
	}

	rows, err := s.db.Query(
		`SELECT student_1, student_2, similarity FROM lexical_pairs WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return report, err
	}
	for rows.Next() {
		var p model.LexicalPair
		if err := rows.Scan(&p.Student1, &p.Student2, &p.Similarity); err != nil {
			rows.Close()
			return report, err
		}
		report.Lexical = append(report.Lexical, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	rows, err = s.db.Query(
		`SELECT student_1, student_2 FROM duplicate_pairs WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return report, err
	}
	for rows.Next() {
		var p model.DuplicatePair
		if err := rows.Scan(&p.Student1, &p.Student2); err != nil {
			rows.Close()
			return report, err
		}
		report.Duplicates = append(report.Duplicates, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	rows, err = s.db.Query(
		`SELECT student, similar_to, semantic_similarity, student_marks, peer_marks, mark_gap, recommendation
		 FROM peer_flags WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return report, err
	}
	defer rows.Close()
	for rows.Next() {
		var f model.PeerFlag
		if err := rows.Scan(&f.Student, &f.SimilarTo, &f.SemanticSimilarity, &f.StudentMarks, &f.PeerMarks, &f.MarkGap, &f.Recommendation); err != nil {
			return report, err
		}
		report.Peers = append(report.Peers, f)
	}
	return report, rows.Err()
}

// ListBatches returns a summary of every stored batch, newest first.
func (s *Store) ListBatches() ([]model.BatchSummary, error) {
	rows, err := s.db.Query(`
		SELECT b.id, b.created_at, b.embedding_model,
			(SELECT COUNT(*) FROM student_results r WHERE r.batch_id = b.id),
			(SELECT COUNT(*) FROM lexical_pairs l WHERE l.batch_id = b.id)
			+ (SELECT COUNT(*) FROM duplicate_pairs d WHERE d.batch_id = b.id)
			+ (SELECT COUNT(*) FROM peer_flags p WHERE p.batch_id = b.id AND p.recommendation != 'none')
		FROM batches b ORDER BY b.created_at DESC, b.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.BatchSummary
	for rows.Next() {
		var bs model.BatchSummary
		if err := rows.Scan(&bs.ID, &bs.CreatedAt, &bs.EmbeddingModel, &bs.NumStudents, &bs.NumFlags); err != nil {
			return nil, err
		}
		list = append(list, bs)
	}
	return list, rows.Err()
}

// ScoreTable returns the final score of every student in a batch, in
// submission order.
func (s *Store) ScoreTable(batchID string) ([]model.ScoreRow, error) {
	rows, err := s.db.Query(
		`SELECT student, total, error FROM student_results WHERE batch_id = ? ORDER BY position`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var table []model.ScoreRow
	for rows.Next() {
		var r model.ScoreRow
		if err := rows.Scan(&r.Student, &r.FinalScore, &r.Note); err != nil {
			return nil, err
		}
		table = append(table, r)
	}
	return table, rows.Err()
}

// DeleteBatch removes a batch and everything recorded for it.
func (s *Store) DeleteBatch(id string) error {
	res, err := s.db.Exec(`DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BatchCount returns the number of stored batches.
func (s *Store) BatchCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM batches`).Scan(&count)
	return count, err
}

// Package report writes batch results as CSV tables, JSON debug dumps and
// HTML reports.
package report

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/report/views"
)

// File names used by WriteAll.
const (
	MarksFile      = "marks.csv"
	LexicalFile    = "plagiarism_pairs.csv"
	DuplicatesFile = "duplicate_pairs.csv"
	PeersFile      = "semantic_similarity_with_marks.csv"
	QuestionsFile  = "question_scores.csv"
)

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteScores writes the batch score table.
func WriteScores(w io.Writer, scores []model.ScoreRow) error {
	rows := make([][]string, len(scores))
	for i, s := range scores {
		rows[i] = []string{s.Student, num(s.FinalScore), s.Note}
	}
	return writeCSV(w, []string{"student", "final_score", "note"}, rows)
}

// WriteQuestionScores writes one row per student and question.
func WriteQuestionScores(w io.Writer, questions []model.QuestionExport) error {
	rows := make([][]string, len(questions))
	for i, q := range questions {
		rows[i] = []string{q.Student, q.QID, num(q.Score)}
	}
	return writeCSV(w, []string{"student", "qid", "score"}, rows)
}

// WriteLexical writes the TF-IDF similarity pairs.
func WriteLexical(w io.Writer, pairs []model.LexicalPair) error {
	rows := make([][]string, len(pairs))
	for i, p := range pairs {
		rows[i] = []string{p.Student1, p.Student2, num(p.Similarity)}
	}
	return writeCSV(w, []string{"student_1", "student_2", "similarity"}, rows)
}

// WriteDuplicates writes the exact-duplicate pairs.
func WriteDuplicates(w io.Writer, pairs []model.DuplicatePair) error {
	rows := make([][]string, len(pairs))
	for i, p := range pairs {
		rows[i] = []string{p.Student1, p.Student2}
	}
	return writeCSV(w, []string{"student_1", "student_2"}, rows)
}

// WritePeers writes the nearest-peer table with localized recommendation
// labels. A student without a peer gets the localized "none" marker.
func WritePeers(ctx context.Context, w io.Writer, peers []model.PeerFlag) error {
	rows := make([][]string, len(peers))
	for i, p := range peers {
		rows[i] = []string{
			p.Student,
			views.PeerName(ctx, p),
			num(p.SemanticSimilarity),
			num(p.StudentMarks),
			views.PeerMarks(ctx, p),
			num(p.MarkGap),
			views.RecommendationLabel(ctx, p.Recommendation),
		}
	}
	return writeCSV(w, []string{
		"student", "similar_to", "semantic_similarity", "student_marks",
		"peer_marks", "mark_gap", "upscale_possibility",
	}, rows)
}

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/report/views"
)

// IntegrityFile is the name of the batch HTML report written by WriteAll.
const IntegrityFile = "integrity_report.html"

type artifact struct {
	name  string
	write func(io.Writer) error
}

var unsafeNameRegex = regexp.MustCompile(`[^\p{L}\p{N}_\-. ]`)

// SafeName makes a student id usable as a file name. Letters and digits of
// any script are kept.
func SafeName(student string) string {
	name := unsafeNameRegex.ReplaceAllString(student, "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// fileNames returns a file name per student that is unique within the batch,
// ignoring case. A name already taken gets a -2, -3, ... suffix.
func fileNames(students []model.StudentResult) []string {
	names := make([]string, len(students))
	used := make(map[string]bool, len(students))
	for i, s := range students {
		base := SafeName(s.Student)
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

// WriteDebug writes a student's evaluation result as indented JSON.
func WriteDebug(w io.Writer, r model.EvaluationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteAll writes every artifact of a batch under dir:
//
//	marks.csv, question_scores.csv, plagiarism_pairs.csv,
//	duplicate_pairs.csv, semantic_similarity_with_marks.csv,
//	integrity_report.html, insights.json,
//	reports/<student>.html, debug/<student>.json
//
// Per-student file names come from SafeName and are made unique within the
// batch.
func WriteAll(ctx context.Context, dir string, b *model.Batch) error {
	for _, sub := range []string{"reports", "debug"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	questions := make([]model.QuestionExport, 0)
	for _, s := range b.Students {
		for _, q := range s.Result.Questions {
			questions = append(questions, model.QuestionExport{Student: s.Student, QID: q.QID, Score: q.Score})
		}
	}
	insights := b.Insights
	if insights == nil {
		insights = []model.QuestionInsight{}
	}

	files := []artifact{
		{MarksFile, func(w io.Writer) error { return WriteScores(w, b.Scores()) }},
		{QuestionsFile, func(w io.Writer) error { return WriteQuestionScores(w, questions) }},
		{LexicalFile, func(w io.Writer) error { return WriteLexical(w, b.Integrity.Lexical) }},
		{DuplicatesFile, func(w io.Writer) error { return WriteDuplicates(w, b.Integrity.Duplicates) }},
		{PeersFile, func(w io.Writer) error { return WritePeers(ctx, w, b.Integrity.Peers) }},
		{IntegrityFile, func(w io.Writer) error { return views.IntegrityReportPage(b).Render(ctx, w) }},
		{"insights.json", func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(insights)
		}},
	}
	names := fileNames(b.Students)
	for i, s := range b.Students {
		name := names[i]
		files = append(files,
			artifact{filepath.Join("reports", name+".html"), func(w io.Writer) error {
				return views.StudentReportPage(s).Render(ctx, w)
			}},
			artifact{filepath.Join("debug", name+".json"), func(w io.Writer) error {
				return WriteDebug(w, s.Result)
			}},
		)
	}

	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	slog.Info("wrote batch outputs", "dir", dir, "files", len(files))
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Package pipeline runs a grading batch: every submission is scored against
// the rubric on a bounded worker pool, then the complete batch is handed to
// the integrity detector.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/rubric"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/segment"
)

const (
	// MinTextChars is the shortest trimmed text that is graded; anything
	// shorter is treated as an image-only submission.
	MinTextChars = 200

	// MinRepresentativeChars is the shortest joined answer text preferred over
	// the raw submission for cross-student comparison.
	MinRepresentativeChars = 300

	imageOnlyPrefix = "IMAGE_ONLY_"
)

// ErrInvalidSubmissions marks a batch whose submissions cannot be graded
// together.
var ErrInvalidSubmissions = errors.New("invalid submissions")

// ValidateSubmissions checks that subs is not empty and that every student id
// is set and unique. Nearest-peer lookup, stored rows and per-student files
// are all keyed by student id.
func ValidateSubmissions(subs []model.Submission) error {
	if len(subs) == 0 {
		return fmt.Errorf("%w: at least one submission is required", ErrInvalidSubmissions)
	}
	seen := make(map[string]bool, len(subs))
	for i, s := range subs {
		if strings.TrimSpace(s.Student) == "" {
			return fmt.Errorf("%w: submission %d has no student id", ErrInvalidSubmissions, i+1)
		}
		if seen[s.Student] {
			return fmt.Errorf("%w: duplicate student id %q", ErrInvalidSubmissions, s.Student)
		}
		seen[s.Student] = true
	}
	return nil
}

// Pipeline wires the scoring engine and integrity detector together.
type Pipeline struct {
	engine   *scoring.Engine
	detector *integrity.Detector
	cfg      model.BatchConfig
}

// New creates a Pipeline.
func New(engine *scoring.Engine, detector *integrity.Detector, cfg model.BatchConfig) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pipeline{engine: engine, detector: detector, cfg: cfg}
}

// IsImageOnly reports whether text is too short to grade.
func IsImageOnly(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextChars
}

// RepresentativeText returns the text used to compare a student against the
// rest of the batch: the student's joined answer spans when they are long
// enough, otherwise the raw text.
func RepresentativeText(text string, r model.Rubric) string {
	qids := r.QIDs()
	joined := segment.Join(segment.SplitAnswers(text, qids), qids)
	if utf8.RuneCountInString(joined) > MinRepresentativeChars {
		return joined
	}
	return text
}

// Run parses rubricSource and grades subs. Submissions that fail
// ValidateSubmissions abort the batch with ErrInvalidSubmissions, and a rubric
// without questions aborts it with rubric.ErrEmpty. Students appear in the
// result in the same order as subs.
func (p *Pipeline) Run(ctx context.Context, rubricSource string, subs []model.Submission) (*model.Batch, error) {
	if err := ValidateSubmissions(subs); err != nil {
		return nil, err
	}
	r, err := rubric.Parse(rubricSource)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	batch := &model.Batch{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		EmbeddingModel: p.cfg.EmbeddingModel,
		RubricSource:   rubricSource,
		Rubric:         r,
	}
	slog.Info("batch started", "batch", batch.ID, "students", len(subs), "questions", len(r.Questions), "workers", p.cfg.Workers)

	students, err := p.score(ctx, r, subs)
	if err != nil {
		return nil, err
	}
	batch.Students = students

	report, err := p.detector.Run(ctx, students)
	if err != nil {
		return nil, fmt.Errorf("integrity analysis: %w", err)
	}
	batch.Integrity = report
	batch.Insights = CollectInsights(r, students)

	slog.Info("batch finished", "batch", batch.ID, "elapsed", time.Since(start).Round(time.Millisecond))
	return batch, nil
}

// score grades each submission on the worker pool. Results are written by
// index so the output order does not depend on scheduling.
func (p *Pipeline) score(ctx context.Context, r model.Rubric, subs []model.Submission) ([]model.StudentResult, error) {
	results := make([]model.StudentResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, sub := range subs {
		g.Go(func() error {
			if IsImageOnly(sub.Text) {
				slog.Warn("image-only submission", "student", sub.Student)
				metrics.SubmissionsGraded.WithLabelValues("image_only").Inc()
				results[i] = model.StudentResult{
					Student:            sub.Student,
					RepresentativeText: imageOnlyPrefix + sub.Student,
					Result:             model.ImageOnlyResult(),
				}
				return nil
			}

			res, err := p.engine.Evaluate(gctx, sub.Text, r)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", sub.Student, err)
			}
			metrics.SubmissionsGraded.WithLabelValues("scored").Inc()
			slog.Debug("submission graded", "student", sub.Student, "total", res.Total)
			results[i] = model.StudentResult{
				Student:            sub.Student,
				RepresentativeText: RepresentativeText(sub.Text, r),
				Result:             res,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Package integrity flags possible academic-integrity concerns across a batch
// of graded submissions: lexical overlap, exact duplicates and semantically
// similar answers with diverging marks.
package integrity

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/embed"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
)

// Detector runs the batch-level integrity analyses.
type Detector struct {
	embedder embed.Embedder
}

// NewDetector creates a Detector that uses e for semantic similarity.
func NewDetector(e embed.Embedder) *Detector {
	return &Detector{embedder: e}
}

// Run analyzes a fully scored batch. The three analyses are independent and
// run concurrently; only the embedding step can fail.
func (d *Detector) Run(ctx context.Context, students []model.StudentResult) (model.IntegrityReport, error) {
	names := make([]string, len(students))
	docs := make([]string, len(students))
	scores := make([]float64, len(students))
	for i, s := range students {
		names[i] = s.Student
		docs[i] = s.RepresentativeText
		scores[i] = s.Result.Total
	}

	var report model.IntegrityReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Lexical = Lexical(names, docs)
		return nil
	})
	g.Go(func() error {
		report.Duplicates = Duplicates(names, docs)
		return nil
	})
	g.Go(func() error {
		peers, err := NearestPeers(gctx, d.embedder, names, docs, scores)
		report.Peers = peers
		return err
	})
	if err := g.Wait(); err != nil {
		return model.IntegrityReport{}, err
	}

	metrics.IntegrityFlags.WithLabelValues("lexical").Add(float64(len(report.Lexical)))
	metrics.IntegrityFlags.WithLabelValues("duplicate").Add(float64(len(report.Duplicates)))
	for _, p := range report.Peers {
		if p.Recommendation != model.RecommendNone {
			metrics.IntegrityFlags.WithLabelValues(string(p.Recommendation)).Inc()
		}
	}
	slog.Info("integrity analysis complete",
		"students", len(students),
		"lexical_pairs", len(report.Lexical),
		"duplicates", len(report.Duplicates),
		"flags", report.FlagCount())
	return report, nil
}

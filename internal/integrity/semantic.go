package integrity

import (
	"context"
	"fmt"
	"sort"

	"github.com/pavelanni/assessor/internal/embed"
	"github.com/pavelanni/assessor/internal/model"
)

// Thresholds for the nearest-peer mark-gap check.
const (
	StrongSimilarity = 0.85
	StrongGap        = 1.0
	ReviewSimilarity = 0.80
	ReviewGap        = 0.5
)

// Classify returns the recommendation for a student whose nearest peer has
// similarity sim and scored gap marks more.
func Classify(sim, gap float64) model.Recommendation {
	switch {
	case sim >= StrongSimilarity && gap >= StrongGap:
		return model.RecommendStrongUpscale
	case sim >= ReviewSimilarity && gap >= ReviewGap:
		return model.RecommendReview
	default:
		return model.RecommendNone
	}
}

// NearestPeers embeds every document, finds each student's most similar other
// student and compares their scores. names, docs and scores are parallel.
// The result holds one row per student, ordered by recommendation severity
// and then similarity, both descending.
func NearestPeers(ctx context.Context, e embed.Embedder, names, docs []string, scores []float64) ([]model.PeerFlag, error) {
	var vecs [][]float32
	if len(docs) >= 2 {
		var err error
		if vecs, err = e.Embed(ctx, docs); err != nil {
			return nil, fmt.Errorf("embed representative texts: %w", err)
		}
		if len(vecs) != len(docs) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(docs))
		}
	}

	rows := make([]model.PeerFlag, 0, len(names))
	for i, name := range names {
		peer := -1
		best := 0.0
		for j := range vecs {
			if i == j {
				continue
			}
			if s := embed.Cosine(vecs[i], vecs[j]); s > best {
				peer, best = j, s
			}
		}

		row := model.PeerFlag{
			Student:            name,
			SemanticSimilarity: round(best, 3),
			StudentMarks:       scores[i],
		}
		if peer >= 0 {
			peerMarks := scores[peer]
			row.SimilarTo = names[peer]
			row.PeerMarks = &peerMarks
			row.MarkGap = round(peerMarks-scores[i], 2)
		}
		row.Recommendation = Classify(best, row.MarkGap)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		sa, sb := rows[a].Recommendation.Severity(), rows[b].Recommendation.Severity()
		if sa != sb {
			return sa > sb
		}
		return rows[a].SemanticSimilarity > rows[b].SemanticSimilarity
	})
	return rows, nil
}

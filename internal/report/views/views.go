// Package views renders the HTML pages of the faculty reports. The pages are
// templ components; run `templ generate` after editing a .templ file.
package views

import (
	"context"
	"fmt"
	"strconv"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RecommendationLabel returns the localized display text for r.
func RecommendationLabel(ctx context.Context, r model.Recommendation) string {
	switch r {
	case model.RecommendStrongUpscale:
		return appI18n.T(ctx, "RecommendStrongUpscale")
	case model.RecommendReview:
		return appI18n.T(ctx, "RecommendReview")
	default:
		return appI18n.T(ctx, "RecommendNone")
	}
}

// StatusLabel returns the localized display text for an evidence tier.
func StatusLabel(ctx context.Context, s model.EvidenceTier) string {
	switch s {
	case model.TierMatched:
		return appI18n.T(ctx, "StatusMatched")
	case model.TierPartial:
		return appI18n.T(ctx, "StatusPartial")
	default:
		return appI18n.T(ctx, "StatusMissing")
	}
}

// PeerName returns the nearest peer of f, or a localized placeholder when
// the student had no eligible peer.
func PeerName(ctx context.Context, f model.PeerFlag) string {
	if f.SimilarTo == "" {
		return appI18n.T(ctx, "NoPeer")
	}
	return f.SimilarTo
}

// PeerMarks returns the nearest peer's total, or a localized placeholder
// when there is none.
func PeerMarks(ctx context.Context, f model.PeerFlag) string {
	if f.PeerMarks == nil {
		return appI18n.T(ctx, "NoPeerMarks")
	}
	return num(*f.PeerMarks)
}

func topEvidence(it model.RubricPointResult) string {
	if len(it.Evidence) == 0 {
		return ""
	}
	return it.Evidence[0].Text
}

func scoreNote(ctx context.Context, r model.ScoreRow) string {
	if r.Note == "" {
		return ""
	}
	return appI18n.T(ctx, "ImageOnly")
}

func batchLine(ctx context.Context, b *model.Batch) string {
	return fmt.Sprintf("%s · %s · %s · %s",
		appI18n.Td(ctx, "BatchN", map[string]any{"ID": b.ID}),
		appI18n.Td(ctx, "GeneratedAt", map[string]any{"Time": b.CreatedAt.Format("2006-01-02 15:04 MST")}),
		appI18n.Tp(ctx, "StudentsCount", len(b.Students)),
		appI18n.Tp(ctx, "FlagsCount", b.Integrity.FlagCount()))
}

func batchCounts(ctx context.Context, b model.BatchSummary) string {
	return fmt.Sprintf("%s, %s, %s", b.CreatedAt.Format("2006-01-02 15:04"),
		appI18n.Tp(ctx, "StudentsCount", b.NumStudents),
		appI18n.Tp(ctx, "FlagsCount", b.NumFlags))
}

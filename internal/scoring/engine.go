// Package scoring grades a submission against a rubric by matching each
// rubric point to its most similar sentence in the student's answer.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/embed"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/segment"
)

const (
	// MaxCandidates bounds the evidence sentences considered per question.
	MaxCandidates = 250

	// MaxTotal is the ceiling for a submission's final score.
	MaxTotal = 10.0

	coverageThreshold = 0.75
	coverageBonus     = 0.25

	lengthFloorChars = 700
	lengthFloorScore = 4.0

	effortBonusCeiling = 5.0
	effortBonus        = 0.5
	diagramBonus       = 1.0
)

// tier maps a similarity threshold to the fraction of marks awarded.
type tier struct {
	min      float64
	fraction float64
	status   model.EvidenceTier
}

// tiers are checked in order; the first whose threshold is met wins.
var tiers = []tier{
	{0.45, 1.0, model.TierMatched},
	{0.30, 0.75, model.TierPartial},
	{0.18, 0.40, model.TierPartial},
}

var (
	effortKeywords  = []string{"diagram", "figure", "block", "architecture", "flow"}
	diagramKeywords = []string{"diagram", "figure", "block diagram", "flowchart", "architecture", "model", "network structure"}
)

// Engine scores submissions using a shared embedder.
type Engine struct {
	embedder embed.Embedder
}

// NewEngine creates an Engine.
func NewEngine(e embed.Embedder) *Engine {
	return &Engine{embedder: e}
}

// Award returns the marks and status for a rubric point worth marks whose
// best evidence has similarity sim.
func Award(sim, marks float64) (float64, model.EvidenceTier) {
	for _, t := range tiers {
		if sim >= t.min {
			if t.fraction == 1.0 {
				return marks, t.status
			}
			return round(t.fraction*marks, 2), t.status
		}
	}
	return 0, model.TierMissing
}

// Evaluate grades text against every question in r. Errors come only from
// the embedder; all scoring edge cases produce a definite result.
func (e *Engine) Evaluate(ctx context.Context, text string, r model.Rubric) (model.EvaluationResult, error) {
	qids := r.QIDs()
	spans := segment.SplitAnswers(text, qids)

	result := model.EvaluationResult{Questions: make([]model.QuestionResult, 0, len(qids))}
	var total float64

	for _, q := range r.Questions {
		span := spans[q.QID]
		if strings.TrimSpace(span) == "" {
			span = text
		}

		qr, score, err := e.scoreQuestion(ctx, q, span)
		if err != nil {
			return model.EvaluationResult{}, fmt.Errorf("score %s: %w", q.QID, err)
		}
		result.Questions = append(result.Questions, qr)
		total += score
	}

	result.Total = applyFairness(text, total)
	slog.Debug("evaluated submission", "questions", len(result.Questions), "total", result.Total)
	return result, nil
}

// scoreQuestion returns the question's result record and its unrounded score.
func (e *Engine) scoreQuestion(ctx context.Context, q model.QuestionRubric, span string) (model.QuestionResult, float64, error) {
	sents := segment.SplitSentences(span)
	if len(sents) > MaxCandidates {
		sents = sents[:MaxCandidates]
	}

	var sentVecs, itemVecs [][]float32
	if len(sents) > 0 && len(q.Items) > 0 {
		var err error
		if sentVecs, err = e.embedder.Embed(ctx, sents); err != nil {
			return model.QuestionResult{}, 0, fmt.Errorf("embed sentences: %w", err)
		}
		texts := make([]string, len(q.Items))
		for i, it := range q.Items {
			texts[i] = it.Text
		}
		if itemVecs, err = e.embedder.Embed(ctx, texts); err != nil {
			return model.QuestionResult{}, 0, fmt.Errorf("embed rubric items: %w", err)
		}
	}

	details := make([]model.RubricPointResult, 0, len(q.Items))
	var score float64
	covered := 0
	for i, it := range q.Items {
		sim := 0.0
		evidence := []model.Evidence{}
		if len(sents) > 0 {
			best := bestMatch(itemVecs[i], sentVecs)
			sim = embed.Cosine(itemVecs[i], sentVecs[best])
			evidence = append(evidence, model.Evidence{Text: sents[best], Similarity: round(sim, 3)})
		}

		awarded, status := Award(sim, it.Marks)
		if status != model.TierMissing {
			covered++
		}
		score += awarded
		details = append(details, model.RubricPointResult{
			RubricPoint: it.Text,
			MaxMarks:    it.Marks,
			Awarded:     awarded,
			Status:      status,
			Similarity:  round(sim, 3),
			Evidence:    evidence,
		})
	}

	score = math.Min(score, q.TotalMarks)
	ratio := float64(covered) / float64(max(len(details), 1))
	if ratio >= coverageThreshold {
		score = math.Min(q.TotalMarks, score+coverageBonus)
	}

	return model.QuestionResult{QID: q.QID, Score: round(score, 2), Items: details}, score, nil
}

// bestMatch returns the index of the candidate most similar to item.
// Ties resolve to the earliest candidate.
func bestMatch(item []float32, candidates [][]float32) int {
	best := 0
	bestSim := math.Inf(-1)
	for i, c := range candidates {
		if s := embed.Cosine(item, c); s > bestSim {
			best, bestSim = i, s
		}
	}
	return best
}

// applyFairness applies the batch-wide adjustments to the summed question
// scores and clamps the result to [0, MaxTotal].
func applyFairness(text string, total float64) float64 {
	if utf8.RuneCountInString(text) > lengthFloorChars && total < lengthFloorScore {
		total = lengthFloorScore
	}

	lower := strings.ToLower(text)
	if containsAny(lower, effortKeywords) && total < effortBonusCeiling {
		total += effortBonus
	}
	// Checked independently of the effort bonus; both may apply.
	if containsAny(lower, diagramKeywords) {
		total += diagramBonus
	}

	total = math.Max(0, math.Min(total, MaxTotal))
	return round(total, 2)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

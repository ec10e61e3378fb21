package scoring

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/assessor/internal/embed"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/rubric"
)

// fakeEmbedder returns fixed vectors for known texts and a vector orthogonal
// to all of them for anything else.
type fakeEmbedder struct {
	vecs     map[string][]float32
	err      error
	calls    int
	maxBatch int
}

var unknownVec = []float32{0, 0, 0, 1}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	f.maxBatch = max(f.maxBatch, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vecs[t]; ok {
			out[i] = embed.Normalize(v)
		} else {
			out[i] = unknownVec
		}
	}
	return out, nil
}

func mustParse(t *testing.T, src string) model.Rubric {
	t.Helper()
	r, err := rubric.Parse(src)
	if err != nil {
		t.Fatalf("rubric.Parse: %v", err)
	}
	return r
}

func TestAward(t *testing.T) {
	tests := []struct {
		sim        float64
		marks      float64
		wantMarks  float64
		wantStatus model.EvidenceTier
	}{
		{1.0, 2, 2, model.TierMatched},
		{0.45, 2, 2, model.TierMatched},
		{0.4499, 2, 1.5, model.TierPartial},
		{0.30, 3, 2.25, model.TierPartial},
		{0.2999, 2, 0.8, model.TierPartial},
		{0.18, 3, 1.2, model.TierPartial},
		{0.1799, 3, 0, model.TierMissing},
		{0, 5, 0, model.TierMissing},
		{0.9, 0, 0, model.TierMatched},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("sim=%v/marks=%v", tt.sim, tt.marks), func(t *testing.T) {
			got, status := Award(tt.sim, tt.marks)
			if got != tt.wantMarks || status != tt.wantStatus {
				t.Errorf("Award(%v, %v) = %v, %s; want %v, %s", tt.sim, tt.marks, got, status, tt.wantMarks, tt.wantStatus)
			}
		})
	}
}

func TestEvaluateMatchedAndMissingWithDiagramBonuses(t *testing.T) {
	r := mustParse(t, "Q1 (4)\nDefines X (2)\nGives example (2)")
	fe := &fakeEmbedder{vecs: map[string][]float32{
		"Defines X":     {1, 0, 0, 0},
		"Gives example": {0, 1, 0, 0},

		"X is defined as a layered system of parts.": {1, 0, 0, 0},
	}}
	text := "Q1. X is defined as a layered system of parts. An architecture diagram attached."

	res, err := NewEngine(fe).Evaluate(context.Background(), text, r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	q := res.Question("Q1")
	if q == nil {
		t.Fatal("Q1 missing from result")
	}
	if q.Score != 2.0 {
		t.Errorf("Q1 score = %v, want 2.0", q.Score)
	}
	if q.Items[0].Status != model.TierMatched || q.Items[1].Status != model.TierMissing {
		t.Errorf("statuses = %s, %s; want matched, missing", q.Items[0].Status, q.Items[1].Status)
	}
	if len(q.Items[0].Evidence) != 1 || q.Items[0].Evidence[0].Text != "X is defined as a layered system of parts." {
		t.Errorf("evidence = %+v", q.Items[0].Evidence)
	}
	// 2.0 + 0.5 effort bonus + 1.0 diagram bonus.
	if res.Total != 3.5 {
		t.Errorf("Total = %v, want 3.5", res.Total)
	}
}

func TestEvaluateCoverageBonusAndPartialCredit(t *testing.T) {
	r := mustParse(t, "Q1 (5)\nPoint A (2)\nPoint B (2)")
	fe := &fakeEmbedder{vecs: map[string][]float32{
		"Point A":                   {1, 0, 0, 0},
		"Point B":                   {0, 1, 0, 0},
		"This sentence states A.":   {1, 0, 0, 0},
		"This sentence hints at B.": {0, 0.4, 0.9165151, 0},
	}}
	text := "1) This sentence states A. This sentence hints at B."

	res, err := NewEngine(fe).Evaluate(context.Background(), text, r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	q := res.Question("Q1")
	if q.Items[1].Status != model.TierPartial || q.Items[1].Awarded != 1.5 {
		t.Errorf("Point B = %s %v, want partial 1.5", q.Items[1].Status, q.Items[1].Awarded)
	}
	// 2 + 1.5 + 0.25 coverage bonus.
	if q.Score != 3.75 {
		t.Errorf("Q1 score = %v, want 3.75", q.Score)
	}
	if res.Total != 3.75 {
		t.Errorf("Total = %v, want 3.75", res.Total)
	}
}

func TestEvaluateCapsQuestionAtTotalMarks(t *testing.T) {
	r := mustParse(t, "Q1 (3)\nPoint A (2)\nPoint B (2)")
	fe := &fakeEmbedder{vecs: map[string][]float32{
		"Point A":                 {1, 0, 0, 0},
		"Point B":                 {1, 0, 0, 0},
		"This sentence states A.": {1, 0, 0, 0},
	}}
	res, err := NewEngine(fe).Evaluate(context.Background(), "This sentence states A.", r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := res.Question("Q1").Score; got != 3 {
		t.Errorf("Q1 score = %v, want 3 (capped, bonus cannot exceed total)", got)
	}
}

func TestEvaluateDegenerateCases(t *testing.T) {
	r := mustParse(t, "Q1 (2)\nSomething specific (2)\nQ2 (3)")
	fe := &fakeEmbedder{}

	res, err := NewEngine(fe).Evaluate(context.Background(), "Q1. ok.", r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	q1 := res.Question("Q1")
	if q1.Score != 0 || q1.Items[0].Status != model.TierMissing || q1.Items[0].Similarity != 0 {
		t.Errorf("Q1 = %+v, want zero score with missing item", q1)
	}
	if len(q1.Items[0].Evidence) != 0 {
		t.Errorf("expected no evidence, got %+v", q1.Items[0].Evidence)
	}
	q2 := res.Question("Q2")
	if q2 == nil || q2.Score != 0 || len(q2.Items) != 0 {
		t.Errorf("Q2 = %+v, want empty zero-score question", q2)
	}
	if res.Total != 0 {
		t.Errorf("Total = %v, want 0", res.Total)
	}
	if fe.calls != 0 {
		t.Errorf("embedder called %d times with no candidates", fe.calls)
	}
}

func TestEvaluateFairnessRules(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		text  string
		vecs  map[string][]float32
		total float64
	}{
		{
			name:  "length floor",
			src:   "Q1 (2)\nSomething (2)",
			text:  strings.Repeat("lorem ipsum dolor sit amet. ", 30),
			total: 4.0,
		},
		{
			name: "effort bonus skipped at five",
			src:  "Q1 (5)\nPoint A (5)",
			text: "This sentence states A. See the flowchart.",
			vecs: map[string][]float32{
				"Point A":                 {1, 0, 0, 0},
				"This sentence states A.": {1, 0, 0, 0},
			},
			total: 6.0,
		},
		{
			name: "clamped to ten",
			src:  "Q1 (10)\nPoint A (10)",
			text: "This sentence states A. A diagram follows.",
			vecs: map[string][]float32{
				"Point A":                 {1, 0, 0, 0},
				"This sentence states A.": {1, 0, 0, 0},
			},
			total: 10.0,
		},
		{
			name:  "substring match",
			src:   "Q1 (2)\nSomething (2)",
			text:  "The workflow was described only briefly here.",
			total: 0.5,
		},
		{
			name:  "second keyword set only",
			src:   "Q1 (2)\nSomething (2)",
			text:  "Our model is described only briefly here.",
			total: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustParse(t, tt.src)
			vecs := tt.vecs
			if vecs == nil {
				vecs = map[string][]float32{"Something": {0, 1, 0, 0}}
			}
			res, err := NewEngine(&fakeEmbedder{vecs: vecs}).Evaluate(context.Background(), tt.text, r)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %v, want %v", res.Total, tt.total)
			}
		})
	}
}

func TestEvaluateCandidateCap(t *testing.T) {
	r := mustParse(t, "Q1 (2)\nTarget point (2)")
	var lines []string
	for i := 0; i < 300; i++ {
		lines = append(lines, fmt.Sprintf("filler sentence number %d", i))
	}
	lines[280] = "the decisive target sentence"
	fe := &fakeEmbedder{vecs: map[string][]float32{
		"Target point":                 {1, 0, 0, 0},
		"the decisive target sentence": {1, 0, 0, 0},
	}}

	res, err := NewEngine(fe).Evaluate(context.Background(), strings.Join(lines, "\n"), r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fe.maxBatch != MaxCandidates {
		t.Errorf("largest embedding batch = %d, want %d", fe.maxBatch, MaxCandidates)
	}
	if got := res.Question("Q1").Items[0].Status; got != model.TierMissing {
		t.Errorf("status = %s, want missing (evidence beyond the cap)", got)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	r := mustParse(t, "Q1 (4)\nDefines X (2)\nGives example (2)\nQ2 (2)\nNames Y (2)")
	fe := &fakeEmbedder{vecs: map[string][]float32{
		"Defines X":                   {1, 0, 0, 0},
		"Names Y":                     {0, 1, 0, 0},
		"X is defined here properly.": {1, 0.2, 0, 0},
		"Y is named right here.":      {0.1, 1, 0, 0},
	}}
	text := "Q1. X is defined here properly.\nQ2. Y is named right here."
	e := NewEngine(fe)

	first, err := e.Evaluate(context.Background(), text, r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := e.Evaluate(context.Background(), text, r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
	if first.Total < 0 || first.Total > MaxTotal {
		t.Errorf("Total %v out of range", first.Total)
	}
}

func TestEvaluateEmbedderError(t *testing.T) {
	r := mustParse(t, "Q1 (2)\nSomething (2)")
	fe := &fakeEmbedder{err: errors.New("connection refused")}
	_, err := NewEngine(fe).Evaluate(context.Background(), "A sentence that is long enough.", r)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped embedder error, got %v", err)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/rubric"
	"github.com/pavelanni/assessor/internal/scoring"
)

type stubEmbedder struct {
	mu   sync.Mutex
	vecs map[string][]float32
	err  error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 0, 1}
		}
	}
	return out, nil
}

const (
	testRubric = "Q1 (2)\nDefines X (2)"
	answer     = "X is defined as a thing."
	filler     = "Plain filler words keep going here. "
)

func newPipeline(e *stubEmbedder, workers int) *Pipeline {
	return New(scoring.NewEngine(e), integrity.NewDetector(e), model.BatchConfig{Workers: workers, EmbeddingModel: "stub"})
}

func TestRunPreservesOrderAndClassifiesImageOnly(t *testing.T) {
	e := &stubEmbedder{vecs: map[string][]float32{
		"Defines X": {1, 0, 0, 0},
		answer:      {1, 0, 0, 0},
	}}

	var subs []model.Submission
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("s%d", i)
		var text string
		switch i % 3 {
		case 0:
			text = "scan of page " + name
		case 1:
			text = "Q1. " + answer + " Student " + name + ". " + strings.Repeat(filler, 6)
		default:
			text = "Q1. Student " + name + " wrote something else. " + strings.Repeat(filler, 6)
		}
		subs = append(subs, model.Submission{Student: name, Text: text})
	}

	batch, err := newPipeline(e, 3).Run(context.Background(), testRubric, subs)
	require.NoError(t, err)

	_, err = uuid.Parse(batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, "stub", batch.EmbeddingModel)
	assert.Equal(t, testRubric, batch.RubricSource)
	require.Len(t, batch.Students, len(subs))

	for i, s := range batch.Students {
		assert.Equal(t, subs[i].Student, s.Student)
		switch i % 3 {
		case 0:
			assert.Equal(t, model.ImageOnlyError, s.Result.Error)
			assert.Equal(t, "IMAGE_ONLY_"+s.Student, s.RepresentativeText)
			assert.Zero(t, s.Result.Total)
			assert.Empty(t, s.Result.Questions)
		case 1:
			assert.Equal(t, 2.0, s.Result.Total, s.Student)
			assert.Equal(t, model.TierMatched, s.Result.Questions[0].Items[0].Status)
		default:
			assert.Zero(t, s.Result.Total, s.Student)
		}
	}

	assert.Len(t, batch.Integrity.Peers, len(subs))
	require.Len(t, batch.Insights, 1)
	assert.Equal(t, "Q1", batch.Insights[0].QID)

	rows := batch.Scores()
	assert.Equal(t, model.ScoreRow{Student: "s0", FinalScore: 0, Note: model.ImageOnlyError}, rows[0])
	assert.Equal(t, model.ScoreRow{Student: "s1", FinalScore: 2.0}, rows[1])
}

func TestRunSameResultAnyWorkerCount(t *testing.T) {
	e := &stubEmbedder{vecs: map[string][]float32{
		"Defines X": {1, 0, 0, 0},
		answer:      {1, 0, 0, 0},
	}}
	var subs []model.Submission
	for i := 0; i < 5; i++ {
		subs = append(subs, model.Submission{
			Student: fmt.Sprintf("st%d", i),
			Text:    fmt.Sprintf("Q1. %s Variant %d. %s", answer, i, strings.Repeat(filler, 6)),
		})
	}

	one, err := newPipeline(e, 1).Run(context.Background(), testRubric, subs)
	require.NoError(t, err)
	many, err := newPipeline(e, 8).Run(context.Background(), testRubric, subs)
	require.NoError(t, err)

	assert.Equal(t, one.Students, many.Students)
	assert.Equal(t, one.Integrity, many.Integrity)
}

func TestRunRubricFailureIsFatal(t *testing.T) {
	e := &stubEmbedder{}
	_, err := newPipeline(e, 2).Run(context.Background(), "no headers here", []model.Submission{{Student: "a", Text: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rubric.ErrEmpty))
}

func TestValidateSubmissions(t *testing.T) {
	tests := []struct {
		name string
		subs []model.Submission
		ok   bool
	}{
		{"empty", nil, false},
		{"unique", []model.Submission{{Student: "a"}, {Student: "b"}}, true},
		{"blank id", []model.Submission{{Student: "a"}, {Student: "  "}}, false},
		{"duplicate id", []model.Submission{{Student: "a"}, {Student: "b"}, {Student: "a"}}, false},
		{"case differs", []model.Submission{{Student: "Иван"}, {Student: "иван"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmissions(tt.subs)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidSubmissions)
		})
	}
}

func TestRunRejectsDuplicateStudents(t *testing.T) {
	e := &stubEmbedder{err: errors.New("embedder reached")}
	text := "Q1. " + answer + " " + strings.Repeat(filler, 6)
	subs := []model.Submission{{Student: "a", Text: text}, {Student: "a", Text: text}}
	_, err := newPipeline(e, 2).Run(context.Background(), testRubric, subs)
	require.ErrorIs(t, err, ErrInvalidSubmissions)
	assert.Contains(t, err.Error(), `"a"`)
	assert.NotContains(t, err.Error(), "embedder reached")
}

func TestRunEmbedderFailure(t *testing.T) {
	e := &stubEmbedder{err: errors.New("dial tcp: refused")}
	subs := []model.Submission{{Student: "a", Text: "Q1. " + answer + " " + strings.Repeat(filler, 6)}}
	_, err := newPipeline(e, 2).Run(context.Background(), testRubric, subs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate a")
	assert.Contains(t, err.Error(), "refused")
}

func TestIsImageOnly(t *testing.T) {
	assert.True(t, IsImageOnly(""))
	assert.True(t, IsImageOnly("   \n\t  "))
	assert.True(t, IsImageOnly(strings.Repeat("x", 199)))
	assert.True(t, IsImageOnly("  "+strings.Repeat("x", 199)+"\n\n"))
	assert.False(t, IsImageOnly(strings.Repeat("x", 200)))
	assert.False(t, IsImageOnly(strings.Repeat("й", 200)))
}

func TestRepresentativeText(t *testing.T) {
	r, err := rubric.Parse("Q1 (2)\nA (2)\nQ2 (2)\nB (2)")
	require.NoError(t, err)

	long1 := strings.Repeat("alpha ", 30)
	long2 := strings.Repeat("beta ", 30)
	text := "Cover page\nQ1. " + long1 + "\nQ2) " + long2
	assert.Equal(t, strings.TrimSpace(long1)+" "+strings.TrimSpace(long2), RepresentativeText(text, r))

	short := "Cover page\nQ1. brief\nQ2) also brief"
	assert.Equal(t, short, RepresentativeText(short, r))

	noHeaders := strings.Repeat("unstructured ", 40)
	assert.Equal(t, noHeaders, RepresentativeText(noHeaders, r))
}

func TestCollectInsights(t *testing.T) {
	r, err := rubric.Parse("Q1 (4)\nPoint A (2)\nPoint B (2)\nQ2 (1)\nPoint C (1)")
	require.NoError(t, err)

	result := func(aStatus, bStatus model.EvidenceTier, evidence string) model.StudentResult {
		ev := []model.Evidence{{Text: evidence, Similarity: 0.5}}
		return model.StudentResult{Result: model.EvaluationResult{Questions: []model.QuestionResult{{
			QID: "Q1",
			Items: []model.RubricPointResult{
				{RubricPoint: "Point A", Status: aStatus, Evidence: ev},
				{RubricPoint: "Point B", Status: bStatus, Evidence: ev},
			},
		}}}}
	}
	longEvidence := strings.Repeat("e", 100)
	students := []model.StudentResult{
		result(model.TierMissing, model.TierMissing, longEvidence),
		result(model.TierMatched, model.TierMissing, "short phrase"),
		result(model.TierPartial, model.TierMissing, longEvidence),
		{Result: model.ImageOnlyResult()},
	}

	got := CollectInsights(r, students)
	require.Len(t, got, 2)

	assert.Equal(t, []model.PhraseCount{{Text: "Point B", Count: 3}, {Text: "Point A", Count: 1}}, got[0].FrequentlyMissing)
	assert.Equal(t, []model.PhraseCount{{Text: strings.Repeat("e", 80), Count: 4}, {Text: "short phrase", Count: 2}}, got[0].CommonPhrases)

	assert.Equal(t, "Q2", got[1].QID)
	assert.Empty(t, got[1].FrequentlyMissing)
	assert.Empty(t, got[1].CommonPhrases)
}

func TestCollectInsightsLimit(t *testing.T) {
	r, err := rubric.Parse("Q1 (7)\nP1 (1)\nP2 (1)\nP3 (1)\nP4 (1)\nP5 (1)\nP6 (1)\nP7 (1)")
	require.NoError(t, err)
	var items []model.RubricPointResult
	for _, it := range r.Questions[0].Items {
		items = append(items, model.RubricPointResult{RubricPoint: it.Text, Status: model.TierMissing})
	}
	students := []model.StudentResult{{Result: model.EvaluationResult{Questions: []model.QuestionResult{{QID: "Q1", Items: items}}}}}

	got := CollectInsights(r, students)
	require.Len(t, got[0].FrequentlyMissing, 5)
	assert.Equal(t, "P1", got[0].FrequentlyMissing[0].Text)
	assert.Equal(t, "P5", got[0].FrequentlyMissing[4].Text)
}

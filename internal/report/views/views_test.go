package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

func ctxFor(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))
}

func TestStudentReportPageEscapes(t *testing.T) {
	s := model.StudentResult{
		Student: "<script>",
		Result: model.EvaluationResult{
			Questions: []model.QuestionResult{{QID: "Q1", Score: 2, Items: []model.RubricPointResult{{
				RubricPoint: "Uses a & b", MaxMarks: 2, Awarded: 2, Status: model.TierMatched, Similarity: 0.5,
				Evidence: []model.Evidence{{Text: "a & b <i>together</i>", Similarity: 0.5}},
			}}}},
			Total: 3.5,
		},
	}
	var buf bytes.Buffer
	if err := StudentReportPage(s).Render(ctxFor(t, "en"), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "<script>") || strings.Contains(html, "<i>together") {
		t.Errorf("unescaped content in output:\n%s", html)
	}
	for _, want := range []string{"Evaluation report: &lt;script&gt;", "3.5 / 10", "Matched", "a &amp; b"} {
		if !strings.Contains(html, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestIntegrityReportPageRussian(t *testing.T) {
	b := &model.Batch{
		ID:        "b1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		Students: []model.StudentResult{
			{Student: "a", Result: model.EvaluationResult{Total: 5}},
			{Student: "b", Result: model.EvaluationResult{Total: 6}},
		},
		Integrity: model.IntegrityReport{
			Peers: []model.PeerFlag{{Student: "a", SimilarTo: "b", SemanticSimilarity: 0.82, StudentMarks: 5, MarkGap: 1, Recommendation: model.RecommendReview}},
		},
	}
	var buf bytes.Buffer
	if err := IntegrityReportPage(b).Render(ctxFor(t, "ru"), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{
		"Сходство не означает вину.",
		"Рекомендуется проверка",
		"2 студента",
		`class="review"`,
		"Нет данных.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestBatchListPage(t *testing.T) {
	list := []model.BatchSummary{{ID: "abc", CreatedAt: time.Now(), NumStudents: 1, NumFlags: 2}}
	var buf bytes.Buffer
	if err := BatchListPage(list, "/api").Render(ctxFor(t, "en"), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, `href="/api/batches/abc/report"`) {
		t.Errorf("missing report link:\n%s", html)
	}
	if !strings.Contains(html, "1 student, 2 items need review") {
		t.Errorf("missing counts:\n%s", html)
	}
}

func TestPeerPlaceholders(t *testing.T) {
	marks := 4.5
	tests := []struct {
		lang      string
		flag      model.PeerFlag
		wantName  string
		wantMarks string
	}{
		{"en", model.PeerFlag{Student: "a"}, "None", "—"},
		{"ru", model.PeerFlag{Student: "a"}, "Нет", "—"},
		{"en", model.PeerFlag{Student: "a", SimilarTo: "b", PeerMarks: &marks}, "b", "4.5"},
	}
	for _, tt := range tests {
		ctx := ctxFor(t, tt.lang)
		if got := PeerName(ctx, tt.flag); got != tt.wantName {
			t.Errorf("%s: PeerName = %q, want %q", tt.lang, got, tt.wantName)
		}
		if got := PeerMarks(ctx, tt.flag); got != tt.wantMarks {
			t.Errorf("%s: PeerMarks = %q, want %q", tt.lang, got, tt.wantMarks)
		}
	}
}

func TestIntegrityReportPageWithoutPeer(t *testing.T) {
	b := &model.Batch{
		ID:       "b2",
		Students: []model.StudentResult{{Student: "solo", Result: model.EvaluationResult{Total: 4}}},
		Integrity: model.IntegrityReport{
			Peers: []model.PeerFlag{{Student: "solo", StudentMarks: 4, Recommendation: model.RecommendNone}},
		},
	}
	var buf bytes.Buffer
	if err := IntegrityReportPage(b).Render(ctxFor(t, "en"), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "NoPeerMarks") || strings.Contains(html, "NoPeer<") {
		t.Errorf("untranslated placeholder in output:\n%s", html)
	}
	if !strings.Contains(html, `<tr class="none"><td>solo</td><td>None</td><td>0</td><td>4</td><td>—</td>`) {
		t.Errorf("missing placeholder row:\n%s", html)
	}
}

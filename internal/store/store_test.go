package store

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func testBatch(id string, created time.Time) *model.Batch {
	return &model.Batch{
		ID:             id,
		CreatedAt:      created,
		EmbeddingModel: "all-minilm",
		RubricSource:   "Q1 (2)\nDefines X (2)\nQ2 (3)\nNames Y (3)",
		Rubric: model.Rubric{Questions: []model.QuestionRubric{
			{QID: "Q1", TotalMarks: 2, Items: []model.RubricItem{{Text: "Defines X", Marks: 2}}},
			{QID: "Q2", TotalMarks: 3, Items: []model.RubricItem{{Text: "Names Y", Marks: 3}}},
		}},
		Students: []model.StudentResult{
			{
				Student:            "zed",
				RepresentativeText: "X is a thing. Y is named.",
				Result: model.EvaluationResult{
					Questions: []model.QuestionResult{
						{QID: "Q1", Score: 2, Items: []model.RubricPointResult{{
							RubricPoint: "Defines X", MaxMarks: 2, Awarded: 2, Status: model.TierMatched, Similarity: 0.81,
							Evidence: []model.Evidence{{Text: "X is a thing.", Similarity: 0.81}},
						}}},
						{QID: "Q2", Score: 2.25, Items: []model.RubricPointResult{{
							RubricPoint: "Names Y", MaxMarks: 3, Awarded: 2.25, Status: model.TierPartial, Similarity: 0.33,
							Evidence: []model.Evidence{{Text: "Y is named.", Similarity: 0.33}},
						}}},
					},
					Total: 4.25,
				},
			},
			{
				Student:            "amy",
				RepresentativeText: "IMAGE_ONLY_amy",
				Result:             model.ImageOnlyResult(),
			},
		},
		Integrity: model.IntegrityReport{
			Lexical:    []model.LexicalPair{{Student1: "zed", Student2: "amy", Similarity: 0.912}},
			Duplicates: []model.DuplicatePair{{Student1: "zed", Student2: "amy"}},
			Peers: []model.PeerFlag{
				{Student: "amy", SimilarTo: "zed", SemanticSimilarity: 0.9, StudentMarks: 0, PeerMarks: ptr(4.25), MarkGap: 4.25, Recommendation: model.RecommendStrongUpscale},
				{Student: "zed", SimilarTo: "", SemanticSimilarity: 0, StudentMarks: 4.25, Recommendation: model.RecommendNone},
			},
		},
		Insights: []model.QuestionInsight{
			{QID: "Q1", FrequentlyMissing: []model.PhraseCount{}, CommonPhrases: []model.PhraseCount{{Text: "X is a thing.", Count: 1}}},
		},
	}
}

func TestSaveAndGetBatch(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := testBatch("b-1", created)

	if err := s.SaveBatch(want); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	got, err := s.GetBatch("b-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got == nil {
		t.Fatal("GetBatch returned nil")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.RubricSource != want.RubricSource || got.EmbeddingModel != "all-minilm" {
		t.Errorf("batch fields = %q, %q", got.RubricSource, got.EmbeddingModel)
	}
	if len(got.Rubric.Questions) != 2 || got.Rubric.Questions[1].QID != "Q2" {
		t.Errorf("rubric = %+v", got.Rubric)
	}

	if len(got.Students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(got.Students))
	}
	if got.Students[0].Student != "zed" || got.Students[1].Student != "amy" {
		t.Errorf("student order = %s, %s; want zed, amy", got.Students[0].Student, got.Students[1].Student)
	}
	zed := got.Students[0].Result
	if zed.Total != 4.25 || zed.Question("Q2").Items[0].Status != model.TierPartial {
		t.Errorf("zed result = %+v", zed)
	}
	if got.Students[1].Result.Error != model.ImageOnlyError {
		t.Errorf("amy error = %q", got.Students[1].Result.Error)
	}

	peers := got.Integrity.Peers
	if len(peers) != 2 || peers[0].Recommendation != model.RecommendStrongUpscale {
		t.Fatalf("peers = %+v", peers)
	}
	if peers[0].PeerMarks == nil || *peers[0].PeerMarks != 4.25 {
		t.Errorf("peer marks = %v, want 4.25", peers[0].PeerMarks)
	}
	if peers[1].PeerMarks != nil {
		t.Errorf("expected nil peer marks without a peer, got %v", *peers[1].PeerMarks)
	}
	if len(got.Integrity.Lexical) != 1 || got.Integrity.Lexical[0].Similarity != 0.912 {
		t.Errorf("lexical = %+v", got.Integrity.Lexical)
	}
	if len(got.Integrity.Duplicates) != 1 {
		t.Errorf("duplicates = %+v", got.Integrity.Duplicates)
	}
	if len(got.Insights) != 1 || got.Insights[0].CommonPhrases[0].Count != 1 {
		t.Errorf("insights = %+v", got.Insights)
	}

	last, err := s.LastBatchID()
	if err != nil {
		t.Fatalf("LastBatchID: %v", err)
	}
	if last != "b-1" {
		t.Errorf("LastBatchID = %q, want b-1", last)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	s := newTestStore(t)
	b, err := s.GetBatch("missing")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b != nil {
		t.Errorf("expected nil batch, got %+v", b)
	}
}

func TestSaveBatchDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	b := testBatch("dup", time.Now())
	if err := s.SaveBatch(b); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.SaveBatch(b); err == nil {
		t.Fatal("expected error saving the same batch twice")
	}
	count, err := s.BatchCount()
	if err != nil {
		t.Fatalf("BatchCount: %v", err)
	}
	if count != 1 {
		t.Errorf("BatchCount = %d, want 1", count)
	}
}

func TestListBatchesAndScoreTable(t *testing.T) {
	s := newTestStore(t)

	list, err := s.ListBatches()
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	older := testBatch("old", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testBatch("new", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	newer.Integrity = model.IntegrityReport{}
	for _, b := range []*model.Batch{older, newer} {
		if err := s.SaveBatch(b); err != nil {
			t.Fatalf("SaveBatch %s: %v", b.ID, err)
		}
	}

	list, err = s.ListBatches()
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("order = %s, %s; want new, old", list[0].ID, list[1].ID)
	}
	if list[1].NumStudents != 2 || list[1].NumFlags != 3 {
		t.Errorf("old summary = %+v, want 2 students and 3 flags", list[1])
	}
	if list[0].NumFlags != 0 {
		t.Errorf("new summary flags = %d, want 0", list[0].NumFlags)
	}

	table, err := s.ScoreTable("old")
	if err != nil {
		t.Fatalf("ScoreTable: %v", err)
	}
	want := []model.ScoreRow{
		{Student: "zed", FinalScore: 4.25},
		{Student: "amy", FinalScore: 0, Note: model.ImageOnlyError},
	}
	if len(table) != len(want) {
		t.Fatalf("ScoreTable len = %d, want %d", len(table), len(want))
	}
	for i := range want {
		if table[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, table[i], want[i])
		}
	}
}

func TestDeleteBatch(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveBatch(testBatch("gone", time.Now())); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.DeleteBatch("gone"); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	b, err := s.GetBatch("gone")
	if err != nil || b != nil {
		t.Errorf("GetBatch after delete = %v, %v", b, err)
	}
	table, err := s.ScoreTable("gone")
	if err != nil {
		t.Fatalf("ScoreTable: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected cascaded delete of results, got %d rows", len(table))
	}
	if err := s.DeleteBatch("gone"); err != sql.ErrNoRows {
		t.Errorf("second delete = %v, want ErrNoRows", err)
	}
}

func TestExportBatch(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveBatch(testBatch("exp", time.Now())); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	exp, err := s.ExportBatch("exp")
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if exp.BatchID != "exp" || exp.NumQuestions != 2 {
		t.Errorf("export header = %+v", exp)
	}
	if len(exp.Scores) != 2 || exp.Scores[1].Note != model.ImageOnlyError {
		t.Errorf("scores = %+v", exp.Scores)
	}
	wantQ := []model.QuestionExport{
		{Student: "zed", QID: "Q1", Score: 2},
		{Student: "zed", QID: "Q2", Score: 2.25},
	}
	if len(exp.Questions) != len(wantQ) {
		t.Fatalf("questions = %+v", exp.Questions)
	}
	for i := range wantQ {
		if exp.Questions[i] != wantQ[i] {
			t.Errorf("question %d = %+v, want %+v", i, exp.Questions[i], wantQ[i])
		}
	}

	if _, err := s.ExportBatch("nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := s.SetMetadata("k", "one"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("k", "two"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	v, err = s.GetMetadata("k")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "two" {
		t.Errorf("GetMetadata = %q, want two", v)
	}
}

func TestAPITokens(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateAPIToken("ci")
	if err != nil {
		t.Fatalf("CreateAPIToken: %v", err)
	}
	if !strings.HasPrefix(token, "ast_") {
		t.Errorf("token %q missing scheme", token)
	}

	got, err := s.VerifyAPIToken(token)
	if err != nil {
		t.Fatalf("VerifyAPIToken: %v", err)
	}
	if got == nil || got.Label != "ci" {
		t.Fatalf("VerifyAPIToken = %+v, want label ci", got)
	}

	// Same prefix, wrong secret.
	forged := token[:len(token)-1] + "x"
	if token[len(token)-1] == 'x' {
		forged = token[:len(token)-1] + "y"
	}
	for _, bad := range []string{"", "short", "ast_deadbeefdeadbeef", forged} {
		got, err := s.VerifyAPIToken(bad)
		if err != nil {
			t.Fatalf("VerifyAPIToken(%q): %v", bad, err)
		}
		if got != nil {
			t.Errorf("VerifyAPIToken(%q) accepted", bad)
		}
	}

	if err := s.InsertAPIToken("admin", "configured-admin-secret"); err != nil {
		t.Fatalf("InsertAPIToken: %v", err)
	}
	if got, _ := s.VerifyAPIToken("configured-admin-secret"); got == nil || got.Label != "admin" {
		t.Errorf("admin token not accepted: %+v", got)
	}
	if err := s.InsertAPIToken("tiny", "abc"); err == nil {
		t.Error("expected error for short token")
	}

	tokens, err := s.ListAPITokens()
	if err != nil {
		t.Fatalf("ListAPITokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].TokenHash != "" {
		t.Error("ListAPITokens must not return hashes")
	}
	if tokens[0].LastUsedAt == nil {
		t.Error("expected last_used_at after verification")
	}

	if err := s.RevokeAPIToken(tokens[0].ID); err != nil {
		t.Fatalf("RevokeAPIToken: %v", err)
	}
	count, err := s.TokenCount()
	if err != nil {
		t.Fatalf("TokenCount: %v", err)
	}
	if count != 1 {
		t.Errorf("TokenCount = %d, want 1", count)
	}
	if got, _ := s.VerifyAPIToken(token); got != nil {
		t.Error("revoked token still accepted")
	}
	if err := s.RevokeAPIToken(tokens[0].ID); err != sql.ErrNoRows {
		t.Errorf("second revoke = %v, want ErrNoRows", err)
	}
}

func TestInsertAPITokenPrefixConflict(t *testing.T) {
	s := newTestStore(t)

	first := "ast_abcdef12-first-secret"
	second := "ast_abcdef12-second-secret"
	if err := s.InsertAPIToken("first", first); err != nil {
		t.Fatalf("InsertAPIToken(first): %v", err)
	}
	err := s.InsertAPIToken("second", second)
	if !errors.Is(err, ErrTokenConflict) {
		t.Fatalf("InsertAPIToken(second) = %v, want ErrTokenConflict", err)
	}

	if got, _ := s.VerifyAPIToken(first); got == nil || got.Label != "first" {
		t.Errorf("first token no longer accepted: %+v", got)
	}
	if got, _ := s.VerifyAPIToken(second); got != nil {
		t.Errorf("rejected token accepted: %+v", got)
	}
	if count, _ := s.TokenCount(); count != 1 {
		t.Errorf("TokenCount = %d, want 1", count)
	}
}

func TestCreateAPITokenRetriesOnConflict(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertAPIToken("existing", "ast_00000000-existing"); err != nil {
		t.Fatalf("InsertAPIToken: %v", err)
	}

	orig := tokenSecret
	t.Cleanup(func() { tokenSecret = orig })

	secrets := []string{"00000000-collides", "11111111-fresh"}
	tokenSecret = func() (string, error) {
		next := secrets[0]
		secrets = secrets[1:]
		return next, nil
	}
	token, err := s.CreateAPIToken("ci")
	if err != nil {
		t.Fatalf("CreateAPIToken: %v", err)
	}
	if token != "ast_11111111-fresh" {
		t.Errorf("token = %q, want the second secret", token)
	}
	if got, _ := s.VerifyAPIToken("ast_00000000-existing"); got == nil || got.Label != "existing" {
		t.Errorf("existing token replaced: %+v", got)
	}

	calls := 0
	tokenSecret = func() (string, error) {
		calls++
		return "00000000-always", nil
	}
	if _, err := s.CreateAPIToken("unlucky"); !errors.Is(err, ErrTokenConflict) {
		t.Errorf("CreateAPIToken = %v, want ErrTokenConflict", err)
	}
	if calls != createAttempts {
		t.Errorf("generated %d secrets, want %d", calls, createAttempts)
	}
}

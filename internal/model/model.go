package model

import (
	"context"
	"time"
)

// EvidenceTier classifies how well a rubric point is supported by a student's answer.
type EvidenceTier string

const (
	// TierMatched awards full marks.
	TierMatched EvidenceTier = "matched"
	// TierPartial awards a fraction of the marks.
	TierPartial EvidenceTier = "partial"
	// TierMissing awards nothing.
	TierMissing EvidenceTier = "missing"
)

// ImageOnlyError is the error marker recorded for submissions without usable text.
const ImageOnlyError = "Image-only PDF"

// RubricItem is one gradable point of a question.
type RubricItem struct {
	Text  string  `json:"text"`
	Marks float64 `json:"marks"`
}

// QuestionRubric is the scoring schema for a single question.
type QuestionRubric struct {
	QID        string       `json:"qid"`
	TotalMarks float64      `json:"total_marks"`
	Items      []RubricItem `json:"items"`
}

// Rubric maps question ids to their schema, in order of first appearance.
type Rubric struct {
	Questions []QuestionRubric `json:"questions"`
}

// QIDs returns the question ids in rubric order.
func (r Rubric) QIDs() []string {
	ids := make([]string, len(r.Questions))
	for i, q := range r.Questions {
		ids[i] = q.QID
	}
	return ids
}

// Question returns the schema for qid, or nil.
func (r Rubric) Question(qid string) *QuestionRubric {
	for i := range r.Questions {
		if r.Questions[i].QID == qid {
			return &r.Questions[i]
		}
	}
	return nil
}

// Empty reports whether the rubric has no questions.
func (r Rubric) Empty() bool {
	return len(r.Questions) == 0
}

// Evidence is the best-matching sentence for a rubric point.
type Evidence struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// RubricPointResult records how a single rubric point was scored.
type RubricPointResult struct {
	RubricPoint string       `json:"rubric_point"`
	MaxMarks    float64      `json:"max_marks"`
	Awarded     float64      `json:"awarded"`
	Status      EvidenceTier `json:"status"`
	Similarity  float64      `json:"similarity"`
	Evidence    []Evidence   `json:"evidence"`
}

// QuestionResult holds the score for one question.
type QuestionResult struct {
	QID   string              `json:"qid"`
	Score float64             `json:"score"`
	Items []RubricPointResult `json:"items"`
}

// EvaluationResult is the outcome of grading one submission.
type EvaluationResult struct {
	Questions []QuestionResult `json:"questions"`
	Total     float64          `json:"total"`
	Error     string           `json:"error,omitempty"`
}

// Question returns the result for qid, or nil.
func (r EvaluationResult) Question(qid string) *QuestionResult {
	for i := range r.Questions {
		if r.Questions[i].QID == qid {
			return &r.Questions[i]
		}
	}
	return nil
}

// ImageOnlyResult is the result recorded for submissions without extractable text.
func ImageOnlyResult() EvaluationResult {
	return EvaluationResult{Questions: []QuestionResult{}, Total: 0, Error: ImageOnlyError}
}

// Submission is the raw extracted text of one student's work.
type Submission struct {
	Student string `json:"student"`
	Text    string `json:"text"`
}

// StudentResult combines a student's evaluation with the text used for
// cross-submission comparison.
type StudentResult struct {
	Student            string           `json:"student"`
	RepresentativeText string           `json:"representative_text"`
	Result             EvaluationResult `json:"result"`
}

// ScoreRow is one line of the batch score table.
type ScoreRow struct {
	Student    string  `json:"student" yaml:"student"`
	FinalScore float64 `json:"final_score" yaml:"final_score"`
	Note       string  `json:"note,omitempty" yaml:"note,omitempty"`
}

// QuestionInsight summarizes common gaps and phrasing across a batch for one question.
type QuestionInsight struct {
	QID               string        `json:"qid" yaml:"qid"`
	FrequentlyMissing []PhraseCount `json:"frequently_missing" yaml:"frequently_missing"`
	CommonPhrases     []PhraseCount `json:"common_phrases" yaml:"common_phrases"`
}

// PhraseCount is a phrase and how often it occurred.
type PhraseCount struct {
	Text  string `json:"text" yaml:"text"`
	Count int    `json:"count" yaml:"count"`
}

// BatchConfig holds runtime parameters set via CLI flags.
type BatchConfig struct {
	Workers        int    // concurrent scoring workers, 0 means 1
	EmbeddingModel string // recorded with every batch
}

// ServerConfig holds HTTP API parameters set via CLI flags.
type ServerConfig struct {
	BasePath         string // URL prefix for sub-path deployments
	AdminToken       string // bearer token allowed to manage API tokens
	MaxUploadBytes   int64  // request body limit for batch uploads
	BatchesPerMinute int    // per-client limit on batch creation, 0 disables it
}

// Batch is one evaluation run over a set of submissions.
type Batch struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	EmbeddingModel string            `json:"embedding_model"`
	RubricSource   string            `json:"rubric_source"`
	Rubric         Rubric            `json:"rubric"`
	Students       []StudentResult   `json:"students"`
	Integrity      IntegrityReport   `json:"integrity"`
	Insights       []QuestionInsight `json:"insights"`
}

// Scores returns the batch score table in submission order.
func (b Batch) Scores() []ScoreRow {
	rows := make([]ScoreRow, len(b.Students))
	for i, s := range b.Students {
		rows[i] = ScoreRow{Student: s.Student, FinalScore: s.Result.Total, Note: s.Result.Error}
	}
	return rows
}

// BatchSummary is a short listing entry for a stored batch.
type BatchSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
	NumStudents    int       `json:"num_students"`
	NumFlags       int       `json:"num_flags"`
}

// APIToken is a hashed bearer token allowed to use the HTTP API. Prefix is
// stored in clear to find the candidate row without scanning every hash.
type APIToken struct {
	ID         int64      `json:"id"`
	Label      string     `json:"label"`
	Prefix     string     `json:"prefix"`
	TokenHash  string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Admin      bool       `json:"-"` // set only for the configured admin token
}

type tokenCtxKey struct{}

// ContextWithToken stores the authenticated API token in the request context.
func ContextWithToken(ctx context.Context, t *APIToken) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, t)
}

// TokenFromContext retrieves the authenticated API token from context, or nil.
func TokenFromContext(ctx context.Context) *APIToken {
	t, _ := ctx.Value(tokenCtxKey{}).(*APIToken)
	return t
}

package model

// Recommendation is the outcome of the nearest-peer mark-gap check.
type Recommendation string

const (
	RecommendNone          Recommendation = "none"
	RecommendReview        Recommendation = "review"
	RecommendStrongUpscale Recommendation = "strong_upscale"
)

// Severity orders recommendations for reporting; higher is more severe.
func (r Recommendation) Severity() int {
	switch r {
	case RecommendStrongUpscale:
		return 2
	case RecommendReview:
		return 1
	default:
		return 0
	}
}

// LexicalPair is two submissions whose TF-IDF vectors are highly similar.
type LexicalPair struct {
	Student1   string  `json:"student_1" yaml:"student_1"`
	Student2   string  `json:"student_2" yaml:"student_2"`
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// DuplicatePair is a later submission whose normalized text equals an earlier one.
// Student1 is the first student to submit that content.
type DuplicatePair struct {
	Student1 string `json:"student_1" yaml:"student_1"`
	Student2 string `json:"student_2" yaml:"student_2"`
}

// PeerFlag relates a student to their semantically nearest peer.
// SimilarTo is empty when the batch has no other student.
type PeerFlag struct {
	Student            string         `json:"student" yaml:"student"`
	SimilarTo          string         `json:"similar_to" yaml:"similar_to"`
	SemanticSimilarity float64        `json:"semantic_similarity" yaml:"semantic_similarity"`
	StudentMarks       float64        `json:"student_marks" yaml:"student_marks"`
	PeerMarks          *float64       `json:"peer_marks,omitempty" yaml:"peer_marks,omitempty"`
	MarkGap            float64        `json:"mark_gap" yaml:"mark_gap"`
	Recommendation     Recommendation `json:"recommendation" yaml:"recommendation"`
}

// IntegrityReport holds the three batch-level integrity relations.
type IntegrityReport struct {
	Lexical    []LexicalPair   `json:"lexical" yaml:"lexical"`
	Duplicates []DuplicatePair `json:"duplicates" yaml:"duplicates"`
	Peers      []PeerFlag      `json:"peers" yaml:"peers"`
}

// FlagCount returns how many rows in the report call for instructor attention.
func (r IntegrityReport) FlagCount() int {
	n := len(r.Lexical) + len(r.Duplicates)
	for _, p := range r.Peers {
		if p.Recommendation != RecommendNone {
			n++
		}
	}
	return n
}

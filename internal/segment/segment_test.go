package segment

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestSplitAnswersHeaderForms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			"q prefix with dot",
			"Q1. First answer\nQ2. Second answer",
			map[string]string{"Q1": "First answer", "Q2": "Second answer"},
		},
		{
			"question word",
			"Question 1: alpha\nquestion 2) beta",
			map[string]string{"Q1": "alpha", "Q2": "beta"},
		},
		{
			"question no",
			"QUESTION NO.1 - gamma\nQUESTION NO. 2- delta",
			map[string]string{"Q1": "gamma", "Q2": "delta"},
		},
		{
			"bare numbers",
			"1. one\n2) two",
			map[string]string{"Q1": "one", "Q2": "two"},
		},
		{
			"missing header",
			"Q1. only the first",
			map[string]string{"Q1": "only the first", "Q2": ""},
		},
		{
			"unknown id dropped",
			"Q1. keep\nQ7. drop me",
			map[string]string{"Q1": "keep", "Q2": ""},
		},
		{
			"preamble ignored",
			"Name: Alice\nRoll 12\nQ2. answer two",
			map[string]string{"Q1": "", "Q2": "answer two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitAnswers(tt.text, []string{"Q1", "Q2"})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitAnswers() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitAnswersEmptyText(t *testing.T) {
	got := SplitAnswers("", []string{"Q1", "Q3"})
	want := map[string]string{"Q1": "", "Q3": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitAnswers(\"\") = %q, want %q", got, want)
	}
}

func TestSplitAnswersRoundTrip(t *testing.T) {
	answers := map[string]string{
		"Q1": "A pipeline overlaps instruction execution.",
		"Q2": "Caches exploit temporal and spatial locality.",
		"Q3": "The scheduler picks the ready process with the earliest deadline.",
	}
	qids := []string{"Q1", "Q2", "Q3"}
	var sb strings.Builder
	for _, qid := range qids {
		fmt.Fprintf(&sb, "%s. %s\n", qid, answers[qid])
	}

	got := SplitAnswers(sb.String(), qids)
	for _, qid := range qids {
		if got[qid] != answers[qid] {
			t.Errorf("%s = %q, want %q", qid, got[qid], answers[qid])
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{
			"terminators keep punctuation",
			"The cache is small. Is it fast? It is very fast!",
			[]string{"The cache is small.", "Is it fast?", "It is very fast!"},
		},
		{
			"short candidates dropped",
			"Tiny. This one is long enough.",
			[]string{"This one is long enough."},
		},
		{
			"newlines split",
			"first line of text\n\nsecond line of text\nthird line here",
			[]string{"first line of text", "second line of text", "third line here"},
		},
		{
			"no break after decimal point",
			"The value is 3.14 exactly here.",
			[]string{"The value is 3.14 exactly here."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSentences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	got := Join(map[string]string{"Q1": "one", "Q2": "  ", "Q3": "three"}, []string{"Q3", "Q2", "Q1"})
	if got != "three one" {
		t.Errorf("Join() = %q, want %q", got, "three one")
	}
}

// Package segment splits submission text into per-question spans and
// sentence-like evidence candidates.
package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinSentenceLen is the shortest candidate, in characters, kept by SplitSentences.
const MinSentenceLen = 10

// questionHeaderRegex matches numbered question headers at line start:
// "Q1.", "Question 2)", "QUESTION NO.3:", "4-", "5." and similar.
var questionHeaderRegex = regexp.MustCompile(`(?im)^\s*(?:question\s*(?:no\.?)?\s*)?(?:q\s*)?(\d+)\s*[.):\-]`)

// sentenceBreakRegex matches a sentence terminator followed by whitespace, or
// a run of newlines. The terminator itself stays with the preceding sentence.
var sentenceBreakRegex = regexp.MustCompile(`[.!?]\s+|\n+`)

// SplitAnswers assigns the text following each recognized question header to
// its question id ("Q" + number). Every id in qids is present in the result;
// ids without a header map to "". Headers for ids not in qids are dropped.
func SplitAnswers(text string, qids []string) map[string]string {
	out := make(map[string]string, len(qids))
	for _, qid := range qids {
		out[qid] = ""
	}
	if text == "" {
		return out
	}

	matches := questionHeaderRegex.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		qid := "Q" + text[m[2]:m[3]]
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if _, ok := out[qid]; ok {
			out[qid] = strings.TrimSpace(text[start:end])
		}
	}
	return out
}

// SplitSentences breaks text into trimmed sentence-like units of at least
// MinSentenceLen characters, preserving order.
func SplitSentences(text string) []string {
	var sents []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) >= MinSentenceLen {
			sents = append(sents, s)
		}
	}

	pos := 0
	for _, m := range sentenceBreakRegex.FindAllStringIndex(text, -1) {
		cut := m[0]
		if text[cut] != '\n' {
			cut++
		}
		add(text[pos:cut])
		pos = m[1]
	}
	add(text[pos:])
	return sents
}

// Join concatenates the non-blank spans of answers in qids order, separated by a space.
func Join(answers map[string]string, qids []string) string {
	var parts []string
	for _, qid := range qids {
		if strings.TrimSpace(answers[qid]) != "" {
			parts = append(parts, answers[qid])
		}
	}
	return strings.Join(parts, " ")
}

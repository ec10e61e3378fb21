package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/model"
)

// MinDuplicateChars is the shortest text considered for exact-duplicate checks.
const MinDuplicateChars = 300

// Fingerprint returns the hex md5 of text after trimming, lower-casing and
// collapsing whitespace runs to single spaces.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := md5.Sum([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Duplicates reports every document whose fingerprint matches an earlier one.
// The first student to submit a fingerprint owns it; each later match yields
// (owner, student). Documents shorter than MinDuplicateChars are skipped.
func Duplicates(names, docs []string) []model.DuplicatePair {
	owners := make(map[string]string)
	pairs := []model.DuplicatePair{}
	for i, d := range docs {
		if utf8.RuneCountInString(d) < MinDuplicateChars {
			continue
		}
		h := Fingerprint(d)
		if owner, ok := owners[h]; ok {
			pairs = append(pairs, model.DuplicatePair{Student1: owner, Student2: names[i]})
			continue
		}
		owners[h] = names[i]
	}
	return pairs
}

package integrity

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/model"
)

const (
	// MaxFeatures caps the TF-IDF vocabulary size.
	MaxFeatures = 5000

	// LexicalThreshold is the minimum TF-IDF cosine for a reported pair.
	LexicalThreshold = 0.80
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// vector is a sparse, L2-normalized TF-IDF vector. Entries are ordered by
// vocabulary index so dot products are summed in a fixed order.
type vector struct {
	idx []int
	w   []float64
}

// terms returns the unigrams and bigrams of doc after lower-casing and
// stop-word removal. Bigrams are formed from adjacent surviving tokens.
func terms(doc string) []string {
	var tokens []string
	for _, w := range wordRegex.FindAllString(strings.ToLower(doc), -1) {
		if utf8.RuneCountInString(w) < 2 || stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// vectorize fits a vocabulary on docs and returns one vector per document
// together with the vocabulary index of each kept term. The vocabulary keeps
// the MaxFeatures terms with the highest corpus count, breaking ties by term.
// Weights are raw term counts times the smoothed idf ln((1+n)/(1+df))+1, then
// L2-normalized.
func vectorize(docs []string) ([]vector, map[string]int) {
	counts := make([]map[string]int, len(docs))
	corpus := make(map[string]int)
	df := make(map[string]int)
	for i, d := range docs {
		counts[i] = make(map[string]int)
		for _, t := range terms(d) {
			counts[i][t]++
			corpus[t]++
		}
		for t := range counts[i] {
			df[t]++
		}
	}

	all := make([]string, 0, len(corpus))
	for t := range corpus {
		all = append(all, t)
	}
	sort.Slice(all, func(a, b int) bool {
		if corpus[all[a]] != corpus[all[b]] {
			return corpus[all[a]] > corpus[all[b]]
		}
		return all[a] < all[b]
	})
	kept := all[:min(len(all), MaxFeatures)]
	sort.Strings(kept)
	vocab := make(map[string]int, len(kept))
	for i, t := range kept {
		vocab[t] = i
	}

	n := float64(len(docs))
	vecs := make([]vector, len(docs))
	for i, c := range counts {
		var v vector
		for t := range c {
			if j, ok := vocab[t]; ok {
				v.idx = append(v.idx, j)
			}
		}
		sort.Ints(v.idx)
		v.w = make([]float64, len(v.idx))
		var sum float64
		for k, j := range v.idx {
			t := kept[j]
			w := float64(c[t]) * (math.Log((1+n)/(1+float64(df[t]))) + 1)
			v.w[k] = w
			sum += w * w
		}
		if sum > 0 {
			norm := math.Sqrt(sum)
			for k := range v.w {
				v.w[k] /= norm
			}
		}
		vecs[i] = v
	}
	return vecs, vocab
}

func (v vector) dot(o vector) float64 {
	var s float64
	for a, b := 0, 0; a < len(v.idx) && b < len(o.idx); {
		switch {
		case v.idx[a] < o.idx[b]:
			a++
		case v.idx[a] > o.idx[b]:
			b++
		default:
			s += v.w[a] * o.w[b]
			a++
			b++
		}
	}
	return s
}

// weight returns the weight of vocabulary entry j, or 0.
func (v vector) weight(j int) float64 {
	k := sort.SearchInts(v.idx, j)
	if k < len(v.idx) && v.idx[k] == j {
		return v.w[k]
	}
	return 0
}

// Lexical returns every pair (i < j) of documents whose TF-IDF cosine
// similarity is at least LexicalThreshold, in (i, j) order. names and docs
// are parallel slices. Fewer than two documents yield no pairs.
func Lexical(names, docs []string) []model.LexicalPair {
	pairs := []model.LexicalPair{}
	if len(docs) < 2 {
		return pairs
	}
	vecs, _ := vectorize(docs)
	for i := range vecs {
		for j := i + 1; j < len(vecs); j++ {
			// Identical documents can land a hair above 1.
			sim := math.Min(vecs[i].dot(vecs[j]), 1)
			if sim >= LexicalThreshold {
				pairs = append(pairs, model.LexicalPair{
					Student1:   names[i],
					Student2:   names[j],
					Similarity: round(sim, 3),
				})
			}
		}
	}
	return pairs
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

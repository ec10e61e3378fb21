package pipeline

import (
	"sort"

	"github.com/pavelanni/assessor/internal/model"
)

const (
	insightLimit = 5
	phraseChars  = 80
)

// CollectInsights summarizes, per question, the rubric points students most
// often missed and the evidence phrases that most often matched. Each list
// holds at most five entries, most frequent first; ties keep first-seen order.
func CollectInsights(r model.Rubric, students []model.StudentResult) []model.QuestionInsight {
	out := make([]model.QuestionInsight, 0, len(r.Questions))
	for _, q := range r.Questions {
		missing := newCounter()
		phrases := newCounter()
		for _, s := range students {
			qr := s.Result.Question(q.QID)
			if qr == nil {
				continue
			}
			for _, item := range qr.Items {
				if item.Status == model.TierMissing {
					missing.add(item.RubricPoint)
				}
				for _, ev := range item.Evidence {
					phrases.add(prefix(ev.Text, phraseChars))
				}
			}
		}
		out = append(out, model.QuestionInsight{
			QID:               q.QID,
			FrequentlyMissing: missing.top(insightLimit),
			CommonPhrases:     phrases.top(insightLimit),
		})
	}
	return out
}

type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) top(n int) []model.PhraseCount {
	list := make([]model.PhraseCount, len(c.order))
	for i, k := range c.order {
		list[i] = model.PhraseCount{Text: k, Count: c.counts[k]}
	}
	sort.SliceStable(list, func(a, b int) bool { return list[a].Count > list[b].Count })
	return list[:min(n, len(list))]
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

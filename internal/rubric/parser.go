// Package rubric parses plain-text rubrics into a scoring schema.
//
// A rubric is a sequence of question headers, each followed by its items:
//
//	Q1 (4)
//	Defines X (2)
//	Gives example (2)
//
// Header lines are matched before item lines. Lines that match neither, or
// items that appear before the first header, are ignored.
package rubric

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/assessor/internal/model"
)

// ErrEmpty is returned when no question header could be parsed.
var ErrEmpty = errors.New("rubric parsing failed: no questions found")

var (
	headerRegex = regexp.MustCompile(`(?i)^\s*(Q\d+)\s*\(([\d.]+)\)`)
	itemRegex   = regexp.MustCompile(`^\s*(.+?)\s*\(([\d.]+)\)\s*$`)
)

// state is the line scanner's position: either no question is open, or
// items attach to the question at index open.
type state struct {
	open int
}

const noQuestion = -1

// Parse converts rubric source text into a Rubric. It returns ErrEmpty if the
// text contains no question headers.
func Parse(text string) (model.Rubric, error) {
	var r model.Rubric
	index := make(map[string]int)
	st := state{open: noQuestion}

	for n, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := headerRegex.FindStringSubmatch(line); m != nil {
			total, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				slog.Warn("ignoring rubric header with invalid total", "line", n+1, "text", line)
				continue
			}
			q := model.QuestionRubric{QID: strings.ToUpper(m[1]), TotalMarks: total, Items: []model.RubricItem{}}
			if i, ok := index[q.QID]; ok {
				r.Questions[i] = q
				st.open = i
			} else {
				index[q.QID] = len(r.Questions)
				r.Questions = append(r.Questions, q)
				st.open = len(r.Questions) - 1
			}
			continue
		}

		if st.open == noQuestion {
			continue
		}
		m := itemRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		marks, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			slog.Warn("ignoring rubric item with invalid marks", "line", n+1, "text", line)
			continue
		}
		q := &r.Questions[st.open]
		q.Items = append(q.Items, model.RubricItem{Text: m[1], Marks: marks})
	}

	if r.Empty() {
		return r, ErrEmpty
	}
	return r, nil
}

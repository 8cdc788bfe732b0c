package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

const DefaultFuzzyThreshold = 90.0

const (
	MetricJaroWinkler = "jaro-winkler"
	MetricLevenshtein = "levenshtein"
)

// Scorer returns a similarity between 0 and 100.
type Scorer func(a, b string) float64

func NewScorer(metric string) (Scorer, error) {
	var m strutil.StringMetric
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "", MetricJaroWinkler:
		m = metrics.NewJaroWinkler()
	case MetricLevenshtein:
		m = metrics.NewLevenshtein()
	default:
		return nil, fmt.Errorf("unknown similarity metric %q", metric)
	}
	return func(a, b string) float64 {
		return strutil.Similarity(a, b, m) * 100
	}, nil
}

// CategoryContext holds the reference lists of one run. It is seeded from a
// store snapshot and grows as new values are met; it is never shared between runs.
type CategoryContext struct {
	Subjects []string
	Uses     []string
}

// SeedCategoryContext reads the distinct subject and use values once.
func SeedCategoryContext(ctx context.Context, store Store) (*CategoryContext, error) {
	subjects, err := store.DistinctValues(ctx, "subject")
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	uses, err := store.DistinctValues(ctx, "use")
	if err != nil {
		return nil, fmt.Errorf("load uses: %w", err)
	}
	return &CategoryContext{
		Subjects: nonEmpty(subjects),
		Uses:     nonEmpty(uses),
	}, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

type Normalizer struct {
	score     Scorer
	threshold float64
	sink      EventSink
}

func NewNormalizer(score Scorer, threshold float64, sink EventSink) *Normalizer {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Normalizer{score: score, threshold: threshold, sink: sink}
}

// Match resolves value against ref. It returns the canonical value, the
// score of the best entry and whether value was rewritten. A value that is
// neither present nor rewritten is appended to ref.
func (n *Normalizer) Match(value string, ref *[]string) (string, float64, bool) {
	if len(*ref) == 0 {
		*ref = append(*ref, value)
		return value, 0, false
	}

	for _, candidate := range *ref {
		if candidate == value {
			return value, 100, false
		}
	}

	best, bestScore := "", -1.0
	for _, candidate := range *ref {
		s := n.score(value, candidate)
		if s > bestScore {
			best, bestScore = candidate, s
		}
	}
	if bestScore > n.threshold && best != value {
		return best, bestScore, true
	}
	*ref = append(*ref, value)
	return value, bestScore, false
}

// Normalize rewrites Subject and Use of each row in place. Rows are visited
// in (file order, source index) order, so the first spelling met becomes the
// canonical one for its cluster.
func (n *Normalizer) Normalize(rows []RawRow, cc *CategoryContext) {
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRowOrder(rows[i].FileOrder, rows[i].SourceIndex, rows[j].FileOrder, rows[j].SourceIndex)
	})

	for i := range rows {
		r := &rows[i]
		r.Subject = n.resolve(r, r.Subject, &cc.Subjects, KindAutoCorrectSubj, "subject")
		r.Use = n.resolve(r, r.Use, &cc.Uses, KindAutoCorrectUse, "use")
	}
}

func (n *Normalizer) resolve(r *RawRow, value string, ref *[]string, kind, field string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	out, score, changed := n.Match(value, ref)
	if changed && n.sink != nil {
		n.sink.Emit(Event{
			SourceFile:  r.SourceFile,
			SourceIndex: lineRef(r.SourceIndex),
			Kind:        kind,
			Message:     fmt.Sprintf("field=%s from='%s' to='%s' score=%.1f", field, value, out, score),
		})
	}
	return out
}

package etl

import (
	"fmt"
	"sort"
)

type DedupedAnswer struct {
	Answer    string
	IsCorrect bool
}

// DedupAnswers collapses identical answer texts of one group. Records are
// walked by source order; the first occurrence fixes the position, a later
// correct duplicate upgrades it and any other duplicate is dropped.
func DedupAnswers(records []AnswerRecord, sink EventSink) []DedupedAnswer {
	sorted := make([]AnswerRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessRowOrder(sorted[i].FileOrder, sorted[i].SourceIndex, sorted[j].FileOrder, sorted[j].SourceIndex)
	})

	out := make([]DedupedAnswer, 0, len(sorted))
	seen := make(map[string]int, len(sorted))
	for _, rec := range sorted {
		pos, dup := seen[rec.Answer]
		if !dup {
			seen[rec.Answer] = len(out)
			out = append(out, DedupedAnswer{Answer: rec.Answer, IsCorrect: rec.IsCorrect})
			continue
		}

		kind := KindAnswerIgnored
		if rec.IsCorrect && !out[pos].IsCorrect {
			out[pos].IsCorrect = true
			kind = KindAnswerMerged
		}
		if sink != nil {
			sink.Emit(Event{
				SourceFile:  rec.SourceFile,
				SourceIndex: lineRef(rec.SourceIndex),
				Kind:        kind,
				Message:     fmt.Sprintf("answer='%s'", rec.Answer),
			})
		}
	}
	return out
}

// ValidateAnswers returns every violated rule; nil means the group is valid.
func ValidateAnswers(answers []DedupedAnswer) []string {
	var violations []string
	if len(answers) < 2 {
		violations = append(violations, RuleTooFewChoices)
	}
	hasCorrect := false
	for _, a := range answers {
		if a.IsCorrect {
			hasCorrect = true
			break
		}
	}
	if !hasCorrect {
		violations = append(violations, RuleMissingCorrect)
	}
	return violations
}

package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"quizbank/internal/question"
)

// GroupRecords partitions records by (question key, subject, use). Groups
// come out in order of first appearance, records in source order.
func GroupRecords(records []AnswerRecord) []Group {
	sorted := make([]AnswerRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessRowOrder(sorted[i].FileOrder, sorted[i].SourceIndex, sorted[j].FileOrder, sorted[j].SourceIndex)
	})

	groups := make([]Group, 0)
	pos := make(map[GroupKey]int)
	for _, rec := range sorted {
		k := GroupKey{QuestionKey: rec.QuestionKey, Subject: rec.Subject, Use: rec.Use}
		i, ok := pos[k]
		if !ok {
			i = len(groups)
			pos[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// DisplayText picks the longest question variant of a group; ties keep the
// earliest one.
func DisplayText(g Group) string {
	best, bestLen := "", -1
	for _, rec := range g.Records {
		if n := utf8.RuneCountInString(rec.Question); n > bestLen {
			best, bestLen = rec.Question, n
		}
	}
	return best
}

// FirstRemark returns the first non-empty remark of a group, or nil.
func FirstRemark(g Group) *string {
	for _, rec := range g.Records {
		if v := strings.TrimSpace(rec.Remark); v != "" {
			return &v
		}
	}
	return nil
}

type Exporter struct {
	store Store
	sink  EventSink
	now   func() time.Time
}

func NewExporter(store Store, sink EventSink) *Exporter {
	return &Exporter{store: store, sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

type ExportStats struct {
	Accepted int
	Rejected int
	Sources  []string
}

// Export builds, checks and inserts one question per group. Business-rule
// rejections and duplicates are counted; only store failures are returned.
// Groups inserted before a failure stay inserted.
func (e *Exporter) Export(ctx context.Context, records []AnswerRecord, author string) (ExportStats, error) {
	var stats ExportStats
	seenSource := make(map[string]bool)

	for _, g := range GroupRecords(records) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		first := g.Records[0]
		if !seenSource[first.SourceFile] {
			seenSource[first.SourceFile] = true
			stats.Sources = append(stats.Sources, first.SourceFile)
		}

		text := DisplayText(g)
		answers := DedupAnswers(g.Records, e.sink)
		if violations := ValidateAnswers(answers); len(violations) > 0 {
			stats.Rejected++
			e.emit(first, KindQuestionRejected, fmt.Sprintf("%s -> %s", text, strings.Join(violations, ",")))
			continue
		}

		q := BuildQuestion(g, text, answers, author, e.now())

		exists, err := e.store.ExistsQuestion(ctx, q.Question, q.Subject, q.Use)
		if err != nil {
			return stats, fmt.Errorf("check existing question: %w", err)
		}
		if exists {
			stats.Rejected++
			e.emit(first, KindDupSkipped, fmt.Sprintf("q='%s'", q.Question))
			continue
		}

		inserted, err := e.store.InsertQuestion(ctx, q)
		if errors.Is(err, question.ErrInvalidInput) {
			stats.Rejected++
			e.emit(first, KindQuestionRejected, fmt.Sprintf("%s -> invalid_record", text))
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("insert question: %w", err)
		}
		if !inserted {
			stats.Rejected++
			e.emit(first, KindDupSkipped, fmt.Sprintf("q='%s' (concurrent insert)", q.Question))
			continue
		}

		stats.Accepted++
		e.emit(first, KindQuestionInserted, fmt.Sprintf("count=%d correct=%d q='%s'", len(q.Responses), countCorrect(q.Responses), q.Question))
	}
	return stats, nil
}

// BuildQuestion shapes a validated group into the stored record.
func BuildQuestion(g Group, text string, answers []DedupedAnswer, author string, now time.Time) *question.Question {
	responses := make([]question.Response, 0, len(answers))
	for _, a := range answers {
		responses = append(responses, question.Response{Answer: a.Answer, IsCorrect: a.IsCorrect})
	}
	return &question.Question{
		Question:  text,
		Subject:   g.Key.Subject,
		Use:       g.Key.Use,
		Responses: responses,
		Remark:    FirstRemark(g),
		Metadata: question.Metadata{
			SourceFile: g.Records[0].SourceFile,
			Author:     author,
		},
		DateCreation:     now,
		DateModification: nil,
		Active:           true,
	}
}

func countCorrect(rs []question.Response) int {
	n := 0
	for _, r := range rs {
		if r.IsCorrect {
			n++
		}
	}
	return n
}

func (e *Exporter) emit(rec AnswerRecord, kind, msg string) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		SourceFile:  rec.SourceFile,
		SourceIndex: lineRef(rec.SourceIndex),
		Kind:        kind,
		Message:     msg,
	})
}

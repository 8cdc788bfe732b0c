package etl

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCorrect turns a correct-answer code such as "A,C", "1;3" or "b.d" into
// zero-based slot positions. Unknown tokens are ignored.
func ParseCorrect(code string) map[int]bool {
	out := make(map[int]bool)
	tokens := strings.FieldsFunc(code, func(r rune) bool {
		return r == ',' || r == ';' || r == '.'
	})
	for _, tok := range tokens {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if len(tok) == 1 && tok[0] >= 'A' && tok[0] <= 'D' {
			out[int(tok[0]-'A')] = true
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil && isDigits(tok) && n >= 1 && n <= slotCount {
			out[n-1] = true
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Expand turns one wide row into one record per non-empty answer slot.
func Expand(row RawRow, sink EventSink) []AnswerRecord {
	correct := ParseCorrect(row.Correct)
	out := make([]AnswerRecord, 0, slotCount)
	for slot, answer := range row.Responses {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			if correct[slot] && sink != nil {
				sink.Emit(Event{
					SourceFile:  row.SourceFile,
					SourceIndex: lineRef(row.SourceIndex),
					Kind:        KindCorrectMissing,
					Message:     fmt.Sprintf("line=%d col=%s, file='%s'", row.SourceIndex, slotFields[slot], row.SourceFile),
				})
			}
			continue
		}
		out = append(out, AnswerRecord{
			QuestionKey: row.QuestionKey,
			Question:    row.Question,
			Subject:     row.Subject,
			Use:         row.Use,
			Remark:      row.Remark,
			Answer:      answer,
			IsCorrect:   correct[slot],
			Slot:        slot,
			SourceFile:  row.SourceFile,
			SourceIndex: row.SourceIndex,
			FileOrder:   row.FileOrder,
		})
	}
	return out
}

// ExpandAll expands rows in their given order.
func ExpandAll(rows []RawRow, sink EventSink) []AnswerRecord {
	out := make([]AnswerRecord, 0, len(rows)*slotCount)
	for _, r := range rows {
		out = append(out, Expand(r, sink)...)
	}
	return out
}

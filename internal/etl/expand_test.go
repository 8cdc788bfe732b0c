package etl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCorrect(t *testing.T) {
	tests := []struct {
		code string
		want map[int]bool
	}{
		{code: "A,C", want: map[int]bool{0: true, 2: true}},
		{code: "1;3", want: map[int]bool{0: true, 2: true}},
		{code: "E,5", want: map[int]bool{}},
		{code: " b . d ", want: map[int]bool{1: true, 3: true}},
		{code: "a;2,D", want: map[int]bool{0: true, 1: true, 3: true}},
		{code: "", want: map[int]bool{}},
		{code: "0,+1,AB", want: map[int]bool{}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, ParseCorrect(tc.code)); diff != "" {
			t.Fatalf("ParseCorrect(%q) mismatch (-want +got):\n%s", tc.code, diff)
		}
	}
}

func TestExpandSkipsEmptySlots(t *testing.T) {
	r := row("Capital of France?", "Geo", "Quiz", "A", "Paris", "", "Lyon", "  ")
	r.SourceIndex = 4
	r.FileOrder = 1

	got := Expand(r, nil)
	want := []AnswerRecord{
		{QuestionKey: "Capital of France", Question: "Capital of France?", Subject: "Geo", Use: "Quiz",
			Answer: "Paris", IsCorrect: true, Slot: 0, SourceFile: "quiz.csv", SourceIndex: 4, FileOrder: 1},
		{QuestionKey: "Capital of France", Question: "Capital of France?", Subject: "Geo", Use: "Quiz",
			Answer: "Lyon", IsCorrect: false, Slot: 2, SourceFile: "quiz.csv", SourceIndex: 4, FileOrder: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandReportsCorrectEmptySlot(t *testing.T) {
	r := row("Q?", "S", "U", "B,C", "one", "", "three", "")
	r.SourceIndex = 7
	log := &eventLog{}

	got := Expand(r, log)

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if !got[1].IsCorrect || got[0].IsCorrect {
		t.Fatalf("unexpected correctness flags: %+v", got)
	}
	evs := log.ofKind(KindCorrectMissing)
	if len(evs) != 1 {
		t.Fatalf("expected 1 CORRECT_MISSING_CHOICE, got %v", log.kinds())
	}
	if evs[0].Message != "line=7 col=responseb, file='quiz.csv'" {
		t.Fatalf("unexpected message %q", evs[0].Message)
	}
	if evs[0].SourceIndex == nil || *evs[0].SourceIndex != 7 {
		t.Fatalf("expected line 7, got %v", evs[0].SourceIndex)
	}
}

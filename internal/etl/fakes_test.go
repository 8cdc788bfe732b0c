package etl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"quizbank/internal/question"
)

// memStore is an in-memory Store keyed like the Postgres unique index.
type memStore struct {
	mu        sync.Mutex
	questions []*question.Question

	distinctErr error
	existsErr   error
	insertErr   error
	// loseRace makes InsertQuestion behave as if another writer got there first.
	loseRace bool
	// refuse lists question texts the store rejects as invalid input.
	refuse map[string]bool
}

func (m *memStore) DistinctValues(ctx context.Context, field string) ([]string, error) {
	if m.distinctErr != nil {
		return nil, m.distinctErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, q := range m.questions {
		v := q.Subject
		if field == "use" {
			v = q.Use
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) ExistsQuestion(ctx context.Context, text, subject, use string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := question.NormalizeKey(text)
	for _, q := range m.questions {
		if q.Subject == subject && q.Use == use && question.NormalizeKey(q.Question) == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertQuestion(ctx context.Context, q *question.Question) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if q == nil || len(q.Responses) == 0 || m.refuse[q.Question] {
		return false, question.ErrInvalidInput
	}
	if m.loseRace {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = int64(len(m.questions) + 1)
	m.questions = append(m.questions, q)
	return true, nil
}

func (m *memStore) seed(subject, use, text string) {
	m.questions = append(m.questions, &question.Question{
		ID:        int64(len(m.questions) + 1),
		Question:  text,
		Subject:   subject,
		Use:       use,
		Responses: []question.Response{{Answer: "x", IsCorrect: true}, {Answer: "y"}},
		Active:    true,
	})
}

// eventLog is an EventSink that keeps every event in order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) ofKind(kind string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0)
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

const csvHeader = "question,subject,use,correct,responseA,responseB,responseC,responseD,remark"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func csvLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func row(q, subject, use, correct string, answers ...string) RawRow {
	r := RawRow{
		Question:    q,
		Subject:     subject,
		Use:         use,
		Correct:     correct,
		SourceFile:  "quiz.csv",
		QuestionKey: question.NormalizeKey(q),
	}
	copy(r.Responses[:], answers)
	return r
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

package etl

import (
	"context"
	"errors"
	"time"

	"quizbank/internal/question"
)

var (
	ErrEmptyInput     = errors.New("no valid data from uploaded file")
	ErrReportNotFound = errors.New("report not found")
	ErrUnsupportedExt = errors.New("unsupported file type")
)

// Event kinds written to the report.
const (
	KindReadError        = "read_csv"
	KindStructure        = "structure"
	KindReadOK           = "READ_OK"
	KindAutoCorrectSubj  = "AUTO_CORRECT_SUBJECT"
	KindAutoCorrectUse   = "AUTO_CORRECT_USE"
	KindCorrectMissing   = "CORRECT_MISSING_CHOICE"
	KindAnswerMerged     = "ANSWER_MERGED"
	KindAnswerIgnored    = "ANSWER_IGNORED"
	KindQuestionRejected = "QUESTION_REJECTED"
	KindDupSkipped       = "DUP_SKIPPED"
	KindQuestionInserted = "QUESTION_INSERTED"
	KindSummary          = "SUMMARY"
)

// Validation tags listed in QUESTION_REJECTED events.
const (
	RuleTooFewChoices  = "TOO_FEW_CHOICES"
	RuleMissingCorrect = "MISSING_CORRECT"
)

const slotCount = 4

var slotFields = [slotCount]string{"responsea", "responseb", "responsec", "responsed"}

// RawRow is one data line of an accepted input file after header mapping.
type RawRow struct {
	Question    string
	Subject     string
	Use         string
	Correct     string
	Responses   [slotCount]string
	Remark      string
	SourceFile  string
	SourceIndex int
	FileOrder   int
	QuestionKey string
}

// AnswerRecord is the long-format view of one non-empty answer slot.
type AnswerRecord struct {
	QuestionKey string
	Question    string
	Subject     string
	Use         string
	Remark      string
	Answer      string
	IsCorrect   bool
	Slot        int
	SourceFile  string
	SourceIndex int
	FileOrder   int
}

type GroupKey struct {
	QuestionKey string
	Subject     string
	Use         string
}

type Group struct {
	Key     GroupKey
	Records []AnswerRecord
}

type Event struct {
	Timestamp   time.Time
	SourceFile  string
	SourceIndex *int
	Kind        string
	Message     string
}

type RunResult struct {
	RunID      string `json:"run_id"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
	Total      int    `json:"total"`
	ReportPath string `json:"report_path,omitempty"`
	Message    string `json:"message"`
}

// EventSink receives pipeline events in emission order.
type EventSink interface {
	Emit(ev Event)
}

// Store is the slice of the question store the pipeline consults. The
// existence check and the insert are two separate calls with no isolation
// between them; InsertQuestion may still refuse a duplicate by returning false.
type Store interface {
	DistinctValues(ctx context.Context, field string) ([]string, error)
	ExistsQuestion(ctx context.Context, text, subject, use string) (bool, error)
	InsertQuestion(ctx context.Context, q *question.Question) (bool, error)
}

func lineRef(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

// lessRowOrder is the ordering every stage observes: file discovery order,
// then position within the file.
func lessRowOrder(fileA, idxA, fileB, idxB int) bool {
	if fileA != fileB {
		return fileA < fileB
	}
	return idxA < idxB
}

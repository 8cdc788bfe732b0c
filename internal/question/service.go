package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrUnknownField     = errors.New("unknown category field")
)

type Service struct {
	db *sql.DB
}

type Response struct {
	Answer    string `json:"answer"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

type Metadata struct {
	SourceFile string `json:"source_file"`
	Author     string `json:"author"`
}

type Question struct {
	ID               int64      `json:"id,omitempty"`
	Question         string     `json:"question"`
	Subject          string     `json:"subject"`
	Use              string     `json:"use"`
	Responses        []Response `json:"responses"`
	Remark           *string    `json:"remark"`
	Metadata         Metadata   `json:"metadata"`
	DateCreation     time.Time  `json:"date_creation"`
	DateModification *time.Time `json:"date_modification"`
	Active           bool       `json:"active"`
}

type ListFilter struct {
	Subject         string
	Use             string
	IncludeArchived bool
	Limit           int
}

var categoryColumns = map[string]string{
	"subject": "subject",
	"use":     "question_use",
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// DistinctValues returns the distinct non-empty values stored for a category
// field ("subject" or "use"), ordered by first insertion.
func (s *Service) DistinctValues(ctx context.Context, field string) ([]string, error) {
	col, ok := categoryColumns[strings.ToLower(strings.TrimSpace(field))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+col+`
		FROM questions
		WHERE btrim(`+col+`) <> ''
		GROUP BY `+col+`
		ORDER BY min(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", field, err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", field, err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct %s: %w", field, err)
	}
	return items, nil
}

// ExistsQuestion reports whether a stored question with the same subject and
// use has the same normalized key. It is a plain read: a concurrent insert
// between this call and InsertQuestion is only caught by the unique index.
func (s *Service) ExistsQuestion(ctx context.Context, text, subject, use string) (bool, error) {
	key := NormalizeKey(text)
	rows, err := s.db.QueryContext(ctx, `
		SELECT question
		FROM questions
		WHERE subject = $1 AND question_use = $2
	`, subject, use)
	if err != nil {
		return false, fmt.Errorf("query questions by category: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return false, fmt.Errorf("scan question: %w", err)
		}
		if NormalizeKey(stored) == key {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate questions: %w", err)
	}
	return false, nil
}

// InsertQuestion stores q and fills its ID. It returns false without error
// when an equivalent question (subject, use, normalized key) already exists.
func (s *Service) InsertQuestion(ctx context.Context, q *Question) (bool, error) {
	if q == nil {
		return false, ErrInvalidInput
	}
	q.Question = strings.TrimSpace(q.Question)
	if len(q.Responses) == 0 {
		return false, ErrInvalidInput
	}

	responsesRaw, err := json.Marshal(q.Responses)
	if err != nil {
		return false, fmt.Errorf("marshal responses: %w", err)
	}
	metaRaw, err := json.Marshal(q.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	if q.DateCreation.IsZero() {
		q.DateCreation = time.Now().UTC()
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			question, question_key, subject, question_use, responses, remark,
			metadata, date_creation, date_modification, active
		) VALUES (
			$1, $2, $3, $4, $5::jsonb, $6, $7::jsonb, $8, $9, $10
		)
		ON CONFLICT (subject, question_use, question_key) DO NOTHING
		RETURNING id
	`, q.Question, NormalizeKey(q.Question), q.Subject, q.Use, string(responsesRaw),
		nullableText(q.Remark), string(metaRaw), q.DateCreation, nullableTime(q.DateModification), q.Active,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert question: %w", err)
	}
	q.ID = id
	return true, nil
}

func (s *Service) ListQuestions(ctx context.Context, f ListFilter) ([]Question, error) {
	query := `
		SELECT id, question, subject, question_use, responses, remark, metadata,
			date_creation, date_modification, active
		FROM questions
		WHERE 1 = 1
	`
	args := make([]any, 0, 3)
	if !f.IncludeArchived {
		query += ` AND active = TRUE`
	}
	if v := strings.TrimSpace(f.Subject); v != "" {
		args = append(args, v)
		query += fmt.Sprintf(` AND subject = $%d`, len(args))
	}
	if v := strings.TrimSpace(f.Use); v != "" {
		args = append(args, v)
		query += fmt.Sprintf(` AND question_use = $%d`, len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, question, subject, question_use, responses, remark, metadata,
			date_creation, date_modification, active
		FROM questions
		WHERE id = $1
	`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func (s *Service) ArchiveQuestion(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET active = FALSE, date_modification = now()
		WHERE id = $1 AND active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("archive question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive question rows: %w", err)
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var out Question
	var responsesRaw, metaRaw []byte
	var remark sql.NullString
	var modified sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.Question,
		&out.Subject,
		&out.Use,
		&responsesRaw,
		&remark,
		&metaRaw,
		&out.DateCreation,
		&modified,
		&out.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal(responsesRaw, &out.Responses); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &out.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if remark.Valid {
		out.Remark = &remark.String
	}
	if modified.Valid {
		out.DateModification = &modified.Time
	}
	return &out, nil
}

func nullableText(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

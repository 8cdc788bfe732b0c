package etl

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"quizbank/internal/logger"
	"quizbank/internal/question"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var requiredFields = []string{
	"question", "subject", "use", "correct",
	"responsea", "responseb", "responsec", "responsed",
	"remark",
}

// DefaultAliases maps normalized header synonyms to canonical field names.
func DefaultAliases() map[string]string {
	return map[string]string{
		"q":          "question",
		"questions":  "question",
		"sujet":      "subject",
		"usage":      "use",
		"correcte":   "correct",
		"remarque":   "remark",
		"response_a": "responsea",
		"response_b": "responseb",
		"response_c": "responsec",
		"response_d": "responsed",
	}
}

// Single-letter answer columns only match when written exactly as A..D.
var letterAliases = map[string]string{
	"A": "responsea",
	"B": "responseb",
	"C": "responsec",
	"D": "responsed",
}

type Ingestor struct {
	inbox   string
	treated string
	aliases map[string]string
	sink    EventSink
	log     *logger.Logger
}

func NewIngestor(inbox, treated string, aliases map[string]string, sink EventSink, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.Nop()
	}
	merged := DefaultAliases()
	for k, v := range aliases {
		k = NormalizeHeader(k)
		v = NormalizeHeader(v)
		if k != "" && v != "" {
			merged[k] = v
		}
	}
	return &Ingestor{
		inbox:   inbox,
		treated: treated,
		aliases: merged,
		sink:    sink,
		log:     log,
	}
}

// NormalizeHeader lowercases, trims and joins whitespace-separated words with "_".
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

func (in *Ingestor) canonicalHeader(raw string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if v, ok := letterAliases[trimmed]; ok {
		return v
	}
	n := NormalizeHeader(trimmed)
	if v, ok := in.aliases[n]; ok {
		return v
	}
	return n
}

// DiscoverFiles lists supported input files in lexicographic order.
func DiscoverFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isSupportedExt(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isSupportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	default:
		return false
	}
}

// Ingest reads every file of the inbox, returning the accepted rows ordered
// by (file order, source index). Each discovered file is moved to the
// treated directory whatever the outcome.
func (in *Ingestor) Ingest(ctx context.Context) ([]RawRow, error) {
	names, err := DiscoverFiles(in.inbox)
	if err != nil {
		return nil, err
	}

	all := make([]RawRow, 0)
	for order, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(in.inbox, name)
		rows := in.ingestFile(path, name, order)
		all = append(all, rows...)
		if err := relocate(path, in.treated); err != nil {
			in.log.Error("relocate input file failed", "file", name, "error", err)
		}
	}
	return all, nil
}

func (in *Ingestor) ingestFile(path, name string, order int) []RawRow {
	header, records, err := readTable(path)
	if err != nil {
		in.emit(name, 0, KindReadError, err.Error())
		return nil
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		c := in.canonicalHeader(h)
		if c == "" {
			continue
		}
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	missing := make([]string, 0)
	for _, f := range requiredFields {
		if _, ok := index[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		in.emit(name, 0, KindStructure, fmt.Sprintf("Missing columns: %s", formatList(missing)))
		return nil
	}

	rows := make([]RawRow, 0, len(records))
	for i, rec := range records {
		if isRowEmpty(rec) {
			continue
		}
		row := RawRow{
			Question:    cell(rec, index, "question"),
			Subject:     cell(rec, index, "subject"),
			Use:         cell(rec, index, "use"),
			Correct:     cell(rec, index, "correct"),
			Remark:      cell(rec, index, "remark"),
			SourceFile:  name,
			SourceIndex: i + 1,
			FileOrder:   order,
		}
		for s, f := range slotFields {
			row.Responses[s] = cell(rec, index, f)
		}
		row.QuestionKey = question.NormalizeKey(row.Question)
		rows = append(rows, row)
	}

	// Delimiter-only rows are counted as read even though they yield no record.
	in.emit(name, 0, KindReadOK, fmt.Sprintf("%d rows to process", len(records)))
	return rows
}

func (in *Ingestor) emit(file string, line int, kind, msg string) {
	if in.sink == nil {
		return
	}
	in.sink.Emit(Event{SourceFile: file, SourceIndex: lineRef(line), Kind: kind, Message: msg})
}

// readTable returns the header row and the data rows of a CSV or XLSX file.
func readTable(path string) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		return parseCSV(data)
	default:
		return nil, nil, ErrUnsupportedExt
	}
}

func parseCSV(data []byte) ([]string, [][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, nil, fmt.Errorf("decode input: %w", err)
		}
		data = decoded
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, errors.New("no columns to parse from file")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	records := make([][]string, 0)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(rec) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, nil, fmt.Errorf("tokenizing data: expected %d fields in line %d, saw %d", len(header), line, len(rec))
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestCount := ',', bytes.Count(first, []byte{','})
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("no columns to parse from file")
	}
	return rows[0], rows[1:], nil
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "'" + it + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// relocate moves src into dir, replacing any file of the same name.
func relocate(src, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create treated dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = in.Close()
		_ = out.Close()
		return fmt.Errorf("copy file: %w", err)
	}
	_ = in.Close()
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return os.Remove(src)
}

package etl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"quizbank/internal/logger"
)

const reportTimeLayout = "2006-01-02 15:04:05"

var (
	reportHeader = []string{"timestamp", "file", "line", "type_evenement", "message"}
	utf8BOM      = []byte{0xEF, 0xBB, 0xBF}
)

// Reporter appends events to one semicolon-delimited report per source file
// and mirrors them to the structured log.
type Reporter struct {
	dir string
	log *logger.Logger
	now func() time.Time

	mu sync.Mutex
}

func NewReporter(dir string, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{dir: dir, log: log, now: time.Now}
}

// ReportName is the report file name used for a given source file. Sources
// other than .csv keep their extension in the name so x.csv and x.xlsx do
// not share a report.
func ReportName(sourceFile string) string {
	base := filepath.Base(strings.TrimSpace(sourceFile))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "log"
	}
	if ext = strings.ToLower(strings.TrimPrefix(ext, ".")); ext != "" && ext != "csv" {
		stem += "_" + ext
	}
	return "rapport_" + stem + ".csv"
}

func (r *Reporter) ReportPath(sourceFile string) string {
	return filepath.Join(r.dir, ReportName(sourceFile))
}

// Resolve returns the path of an existing report by its file name. Names that
// would escape the report directory are treated as missing.
func (r *Reporter) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrReportNotFound
	}
	p := filepath.Join(r.dir, name)
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return "", ErrReportNotFound
	}
	return p, nil
}

func (r *Reporter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	fields := []interface{}{"kind", ev.Kind, "file", ev.SourceFile}
	if ev.SourceIndex != nil {
		fields = append(fields, "line", *ev.SourceIndex)
	}
	r.log.Info(ev.Message, fields...)

	if err := r.append(ev); err != nil {
		r.log.Error("append report row failed", "file", ev.SourceFile, "kind", ev.Kind, "error", err)
	}
}

func (r *Reporter) append(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := r.ReportPath(ev.SourceFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = ';'
	if st.Size() == 0 {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
		if err := w.Write(reportHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	line := ""
	if ev.SourceIndex != nil {
		line = strconv.Itoa(*ev.SourceIndex)
	}
	if err := w.Write([]string{
		ev.Timestamp.Format(reportTimeLayout),
		ev.SourceFile,
		line,
		ev.Kind,
		ev.Message,
	}); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type multiSink []EventSink

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// MultiSink fans events out to every non-nil sink, in order.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"quizbank/internal/app/apiresp"
	"quizbank/internal/auth"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 20 << 20

var acceptedUploadTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"application/vnd.ms-excel": true,
	"text/plain":               true,
	"application/octet-stream": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

type importer interface {
	ImportUpload(ctx context.Context, filename string, data []byte, author string) (string, *RunResult, error)
}

type reportResolver interface {
	Resolve(name string) (string, error)
}

type Handler struct {
	imp           importer
	reports       reportResolver
	defaultAuthor string
	// maxUpload caps the request body; zero means maxUploadBytes.
	maxUpload int64
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type importStats struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

type importResponse struct {
	File    string      `json:"file"`
	RunID   string      `json:"run_id"`
	Message string      `json:"message"`
	Stats   importStats `json:"stats"`
	Report  string      `json:"report"`
}

func NewHandler(p *Pipeline, defaultAuthor string) *Handler {
	return &Handler{imp: p, reports: p.Reporter(), defaultAuthor: defaultAuthor}
}

func (h *Handler) ImportFile(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUpload
	if limit <= 0 {
		limit = maxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
		return
	}
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	if !isSupportedExt(header.Filename) || !acceptedContentType(header.Header.Get("Content-Type")) {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid file type"})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "cannot read upload"})
		return
	}

	author := h.defaultAuthor
	if u, ok := auth.CurrentUser(r.Context()); ok && u.Username != "" {
		author = u.Username
	}

	name, res, err := h.imp.ImportUpload(r.Context(), header.Filename, data, author)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyInput):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: ErrEmptyInput.Error()})
		case errors.Is(err, ErrUnsupportedExt):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid file type"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "import failed"})
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: importResponse{
		File:    name,
		RunID:   res.RunID,
		Message: res.Message,
		Stats:   importStats{Accepted: res.Accepted, Rejected: res.Rejected, Total: res.Total},
		Report:  filepath.Base(res.ReportPath),
	}})
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.reports.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, ErrReportNotFound) {
			writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: "report not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	http.ServeFile(w, r, path)
}

func acceptedContentType(v string) bool {
	if strings.TrimSpace(v) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return acceptedUploadTypes[strings.ToLower(mt)]
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

package webui

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dump-correlator/internal/pipeline"
	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/internal/repository"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/httpstatus"
	"github.com/dump-correlator/pkg/writer"
)

// Multipart field names of the correlate endpoint.
const (
	FieldThreads = "threads"
	FieldHeap    = "heap"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status      int    `json:"status"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := writer.NewJSONWriter[interface{}]().Write(v, w); err != nil {
		s.logger.Error("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	st, ok := httpstatus.Lookup(status)
	if !ok {
		st = httpstatus.Status{Code: status, Reason: http.StatusText(status), Description: httpstatus.Describe(status)}
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{
		Status:      st.Code,
		Reason:      st.Reason,
		Description: st.Description,
		Code:        apperrors.GetErrorCode(err),
		Message:     err.Error(),
	}})
}

// statusFor maps an error to the response status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case apperrors.IsFormatError(err):
		return http.StatusBadRequest
	case apperrors.IsEmptyInputError(err):
		return http.StatusUnprocessableEntity
	case apperrors.GetErrorCode(err) == apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readPart returns the content of a multipart file field, or nil when the
// field is absent.
func readPart(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func digest(threads, heap []byte, threadFormat, heapFormat string) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(threadFormat), threads, []byte(heapFormat), heap} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{0})
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// handleCorrelate runs a correlation on uploaded dumps.
func (s *Server) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	formatter, err := s.formatters.Get(q.Get("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid format", err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if statusFor(err) == http.StatusRequestEntityTooLarge {
			s.writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid multipart body", err))
		return
	}
	defer cleanupForm(r.MultipartForm)

	threads, err := readPart(r, FieldThreads)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	heap, err := readPart(r, FieldHeap)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	in := pipeline.Input{ThreadFormat: q.Get("thread_format"), HeapFormat: q.Get("heap_format")}
	key := digest(threads, heap, in.ThreadFormat, in.HeapFormat)

	doc, hit := s.cache.Get(key)
	if !hit {
		if threads != nil {
			in.Threads = bytes.NewReader(threads)
		}
		if heap != nil {
			in.Heap = bytes.NewReader(heap)
		}

		res, err := s.pipeline.Run(r.Context(), in)
		if err != nil {
			s.logger.Warn("correlate request failed: %v", err)
			s.writeError(w, statusFor(err), err)
			return
		}

		doc = report.NewDocument(res.RunID, s.clock.Now(), res.Findings, &res.Stats)
		doc.Extra = res.Extra()
		s.cache.Add(key, doc)
		s.archive(r, doc)
	}

	w.Header().Set("Content-Type", formatter.ContentType())
	w.Header().Set("X-Run-ID", doc.RunID)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	if err := formatter.Format(w, doc); err != nil {
		s.logger.Error("Failed to render report %s: %v", doc.RunID, err)
	}
}

func (s *Server) archive(r *http.Request, doc *report.Document) {
	if s.opts.Archive == nil {
		return
	}
	if err := s.opts.Archive.SaveReport(r.Context(), doc); err != nil {
		s.logger.WithField("run_id", doc.RunID).Warn("failed to archive report: %v", err)
	}
}

func cleanupForm(form *multipart.Form) {
	if form != nil {
		form.RemoveAll()
	}
}

// handleGetReport renders a previous report from the cache or the archive.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	formatter, err := s.formatters.Get(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid format", err))
		return
	}

	var doc *report.Document
	for _, cached := range s.cache.Values() {
		if cached.RunID == id {
			doc = cached
			break
		}
	}
	if doc == nil && s.opts.Archive != nil {
		doc, err = s.opts.Archive.GetReport(r.Context(), id)
		if err != nil && !errors.Is(err, repository.ErrReportNotFound) {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if doc == nil {
		s.writeError(w, http.StatusNotFound, apperrors.New(apperrors.CodeInvalidInput, "no report for run "+id))
		return
	}

	w.Header().Set("Content-Type", formatter.ContentType())
	w.Header().Set("X-Run-ID", doc.RunID)
	if err := formatter.Format(w, doc); err != nil {
		s.logger.Error("Failed to render report %s: %v", doc.RunID, err)
	}
}

// handleListReports lists archived reports.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		s.writeError(w, http.StatusServiceUnavailable, apperrors.New(apperrors.CodeArchiveError, "archive is disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summaries, err := s.opts.Archive.ListReports(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": summaries})
}

// handleStatusCodes documents the status codes of this API.
func (s *Server) handleStatusCodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status_codes": httpstatus.All()})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

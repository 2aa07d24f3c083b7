package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/docq-ai/docq-go/internal/answer"
	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/extract"
	"github.com/docq-ai/docq-go/internal/ingest"
	"github.com/docq-ai/docq-go/internal/logging"
	"github.com/docq-ai/docq-go/internal/normalize"
	"github.com/docq-ai/docq-go/internal/tabular"
)

// maxUploadBytes caps the request body on the upload endpoints.
const maxUploadBytes = 10 << 20

// handleChat handles POST /api/chat: a plain conversation turn without
// document grounding.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.deps.Answer.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		s.serverError(w, r, "chat failed", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: reply})
}

// handleRAGQuery handles POST /api/rag-query: answer a question from the
// caller's uploaded documents.
func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	var req ragQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	userID := s.resolveUserID(r, req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	result, err := s.deps.Answer.Answer(r.Context(), userID, req.Question)
	if err != nil {
		if errors.Is(err, answer.ErrNoContext) {
			s.metrics.ragRequestsTotal.WithLabelValues("no_context").Inc()
			writeError(w, http.StatusBadRequest, "no documents uploaded for this user")
			return
		}
		s.metrics.ragRequestsTotal.WithLabelValues("error").Inc()
		s.serverError(w, r, "rag query failed", err)
		return
	}
	s.metrics.ragRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, ragQueryResponse{Answer: result.Answer, Sources: result.Sources})
}

// handleIngest handles POST /api/ingest: accept a single upsert or delete
// envelope and enqueue it for asynchronous processing.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body unreadable or too large")
		return
	}

	msg, err := ingest.BuildMessage(raw, nil)
	if err != nil {
		s.requestError(w, r, err)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.serverError(w, r, "encode message", err)
		return
	}
	messageID, err := s.deps.Producer.Enqueue(r.Context(), string(payload))
	if err != nil {
		s.serverError(w, r, "enqueue message", err)
		return
	}

	s.metrics.queueMessagesTotal.WithLabelValues(string(msg.Action)).Inc()
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:    "queued",
		ID:        msg.ID,
		Action:    string(msg.Action),
		MessageID: messageID,
	})
}

// handleUploadExcel handles POST /api/upload-excel: parse a tabular file and
// enqueue one upsert message per row. Rows are written by the worker.
func (s *Server) handleUploadExcel(w http.ResponseWriter, r *http.Request) {
	rows, filename, userID, ok := s.tabularUpload(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Pipeline.EnqueueTabular(r.Context(), s.deps.Producer, rows, userID, filename)
	if err != nil {
		s.serverError(w, r, "enqueue rows", err)
		return
	}
	s.metrics.queueMessagesTotal.WithLabelValues(string(ingest.ActionUpsert)).Add(float64(len(result.UpsertedIDs)))
	writeJSON(w, http.StatusAccepted, result)
}

// handleUploadExcelDirect handles POST /api/upload-excel-direct: parse a
// tabular file and ingest its rows synchronously, replacing the owner's
// previous tabular upload.
func (s *Server) handleUploadExcelDirect(w http.ResponseWriter, r *http.Request) {
	rows, filename, userID, ok := s.tabularUpload(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Pipeline.ReplaceTabular(r.Context(), rows, userID, filename)
	if err != nil {
		s.serverError(w, r, "ingest rows", err)
		return
	}
	s.metrics.documentsIngestedTotal.
		WithLabelValues(string(docstore.TypeCSVData), "ok").Add(float64(len(result.UpsertedIDs)))
	s.metrics.documentsIngestedTotal.
		WithLabelValues(string(docstore.TypeCSVData), "failed").Add(float64(len(result.Failures)))
	writeJSON(w, http.StatusOK, result)
}

// handleUploadPolicyDocuments handles POST /api/upload-policy-documents:
// extract text from each uploaded file and ingest it for the caller.
func (s *Server) handleUploadPolicyDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body or file too large")
		return
	}

	userID := s.resolveUserID(r, r.FormValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	files := make([]ingest.PolicyFile, 0, len(headers))
	for _, hdr := range headers {
		data, err := readUpload(hdr)
		if err != nil {
			s.serverError(w, r, "read upload", err)
			return
		}
		files = append(files, ingest.PolicyFile{Name: hdr.Filename, Data: data})
	}

	results, err := s.deps.Pipeline.IngestPolicyFiles(r.Context(), userID, files)
	if err != nil {
		s.requestError(w, r, err)
		return
	}
	for _, res := range results {
		outcome := "failed"
		if res.Status == "ingested" {
			outcome = "ok"
		}
		s.metrics.documentsIngestedTotal.
			WithLabelValues(string(docstore.TypePolicyDocument), outcome).Inc()
	}
	writeJSON(w, http.StatusOK, results)
}

// handleUploadedFiles handles GET /api/uploaded-files: list the distinct
// source file names the caller has uploaded, split by document type.
func (s *Server) handleUploadedFiles(w http.ResponseWriter, r *http.Request) {
	userID := s.resolveUserID(r, r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	csvFiles, err := s.deps.Store.ListFiles(r.Context(), userID, docstore.TypeCSVData)
	if err != nil {
		s.serverError(w, r, "list files", err)
		return
	}
	policyFiles, err := s.deps.Store.ListFiles(r.Context(), userID, docstore.TypePolicyDocument)
	if err != nil {
		s.serverError(w, r, "list files", err)
		return
	}

	if csvFiles == nil {
		csvFiles = []string{}
	}
	if policyFiles == nil {
		policyFiles = []string{}
	}
	writeJSON(w, http.StatusOK, uploadedFilesResponse{CSVFiles: csvFiles, PolicyFiles: policyFiles})
}

// tabularUpload parses the multipart upload shared by the two excel
// endpoints. On failure it writes the error response and returns ok=false.
func (s *Server) tabularUpload(w http.ResponseWriter, r *http.Request) (rows []tabular.Row, filename, userID string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body or file too large")
		return nil, "", "", false
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return nil, "", "", false
	}
	defer file.Close()

	userID = s.resolveUserID(r, r.FormValue("userId"))

	switch ext := strings.ToLower(filepath.Ext(hdr.Filename)); ext {
	case ".csv":
		rows, err = tabular.ParseCSV(file)
	case ".xlsx", ".xls":
		var data []byte
		if data, err = io.ReadAll(file); err == nil {
			rows, err = tabular.ParseXLSX(data)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported tabular file type %q, use .csv or .xlsx", ext))
		return nil, "", "", false
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot parse %s: %v", hdr.Filename, err))
		return nil, "", "", false
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "file contains no data rows")
		return nil, "", "", false
	}

	return rows, hdr.Filename, userID, true
}

// resolveUserID returns the document owner for a request: an explicit value
// wins, then the authenticated caller's subject.
func (s *Server) resolveUserID(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id := identityFrom(r.Context()); id != nil {
		return id.Subject
	}
	return ""
}

// readUpload reads one multipart file fully into memory. Uploads are already
// capped by MaxBytesReader.
func readUpload(hdr *multipart.FileHeader) ([]byte, error) {
	f, err := hdr.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", hdr.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// requestError maps domain validation errors to 400 responses with their own
// message; anything else is treated as a server error.
func (s *Server) requestError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missingOwner  *normalize.MissingOwnerError
		missingField  *ingest.MissingFieldError
		invalidAction *ingest.InvalidActionError
		unsupported   *extract.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &missingOwner),
		errors.As(err, &missingField),
		errors.As(err, &invalidAction),
		errors.As(err, &unsupported):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.serverError(w, r, "request failed", err)
	}
}

// serverError logs the underlying failure and returns a generic 500. Internal
// error details never reach the client.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(msg, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Package httpapi exposes pkg/ingress.Service over a thin go-chi/chi
// router, for local operation and for integration tests. Authentication
// and sessions stay an external collaborator: every route resolves its
// tenant through a TenantResolver, never a bespoke login flow.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/ingress"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

var validate = validator.New()

// Server wires an ingress.Service into an HTTP mux.
type Server struct {
	svc      *ingress.Service
	resolver ingress.TenantResolver
}

// NewServer constructs an httpapi.Server.
func NewServer(svc *ingress.Service, resolver ingress.TenantResolver) *Server {
	return &Server{svc: svc, resolver: resolver}
}

// Router builds the chi mux. Every handler recovers from panics and logs
// through the shared zerolog logger via a single middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleProcessSingle)
		r.Post("/async", s.handleProcessAsync)
		r.Post("/batch", s.handleProcessBatch)
	})
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Get("/batches", s.handleGetBatch)
	r.Route("/records", func(r chi.Router) {
		r.Get("/", s.handleListRecords)
		r.Get("/{processingID}", s.handleGetRecord)
		r.Patch("/{processingID}", s.handleUpdateRecord)
		r.Post("/{processingID}/reanalyze", s.handleReanalyze)
	})
	r.Get("/objects", s.handleDownloadObject)
	r.Route("/templates", func(r chi.Router) {
		r.Post("/", s.handleUploadTemplate)
		r.Get("/", s.handleListTemplates)
		r.Delete("/{templateID}", s.handleDeleteTemplate)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

// tenantContext resolves tenant_id/user_id from the Authorization header
// via the configured TenantResolver.
func (s *Server) tenantContext(r *http.Request) (tenantID, userID string, err error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return "", "", apierrors.New(apierrors.Validation, "missing Authorization header", nil)
	}
	return s.resolver.Resolve(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apierrors.Validation, apierrors.UnsupportedMime, apierrors.TooLarge:
		status = http.StatusBadRequest
	case apierrors.NotFound:
		status = http.StatusNotFound
	case apierrors.Duplicate:
		status = http.StatusOK
	case apierrors.Busy:
		status = http.StatusTooManyRequests
	case apierrors.Timeout:
		status = http.StatusGatewayTimeout
	case apierrors.UpstreamUnavailable, apierrors.OCRUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": string(kind), "message": err.Error()})
}

type processRequest struct {
	TemplateID string `json:"template_id" validate:"omitempty,uuid4"`
}

func parseMultipartDocument(r *http.Request) (fileBytes []byte, filename, mimeType string, opts ingress.Options, err error) {
	if err = r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", "", opts, apierrors.New(apierrors.Validation, "failed to parse multipart form", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", opts, apierrors.New(apierrors.Validation, "missing file field", err)
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", opts, apierrors.New(apierrors.Validation, "failed to read uploaded file", err)
	}

	req := processRequest{TemplateID: r.FormValue("template_id")}
	if err = validate.Struct(req); err != nil {
		return nil, "", "", opts, apierrors.New(apierrors.Validation, "invalid request fields", err)
	}

	mimeType = header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(buf)
	}
	return buf, header.Filename, mimeType, ingress.Options{TemplateID: req.TemplateID}, nil
}

func (s *Server) handleProcessSingle(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	fileBytes, filename, mimeType, opts, err := parseMultipartDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.svc.ProcessSingle(r.Context(), fileBytes, mimeType, filename, tenantID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcessAsync(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	fileBytes, filename, mimeType, opts, err := parseMultipartDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.svc.ProcessAsync(r.Context(), fileBytes, mimeType, filename, tenantID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.JobID})
}

func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeError(w, apierrors.New(apierrors.Validation, "failed to parse multipart form", err))
		return
	}
	templateID := r.FormValue("template_id")

	var files []ingress.FileInput
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				writeError(w, apierrors.New(apierrors.Validation, "failed to open uploaded file", err))
				return
			}
			buf, readErr := io.ReadAll(file)
			file.Close()
			if readErr != nil {
				writeError(w, apierrors.New(apierrors.Validation, "failed to read uploaded file", readErr))
				return
			}
			mimeType := header.Header.Get("Content-Type")
			if mimeType == "" {
				mimeType = http.DetectContentType(buf)
			}
			files = append(files, ingress.FileInput{Bytes: buf, MimeType: mimeType, Filename: header.Filename})
		}
	}

	batchID, children, err := s.svc.ProcessBatch(r.Context(), files, tenantID, ingress.Options{TemplateID: templateID})
	if err != nil {
		writeError(w, err)
		return
	}
	childIDs := make([]string, 0, len(children))
	for _, c := range children {
		childIDs = append(childIDs, c.JobID)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"batch_id": batchID, "child_job_ids": childIDs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("job_ids"), ",")
	status, err := s.svc.GetBatch(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filters := recordstore.ListFilters{}
	if limit, convErr := strconv.Atoi(r.URL.Query().Get("limit")); convErr == nil {
		filters.Limit = limit
	}
	if offset, convErr := strconv.Atoi(r.URL.Query().Get("offset")); convErr == nil {
		filters.Offset = offset
	}
	records, err := s.svc.ListRecords(r.Context(), tenantID, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.svc.GetRecord(r.Context(), chi.URLParam(r, "processingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	_, userID, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		KV map[string]string `json:"kv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierrors.New(apierrors.Validation, "invalid request body", err))
		return
	}
	record, err := s.svc.UpdateRecordKV(r.Context(), chi.URLParam(r, "processingID"), body.KV, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.ReanalyzeLowConfidence(r.Context(), chi.URLParam(r, "processingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDownloadObject(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierrors.New(apierrors.Validation, "missing path query parameter", nil))
		return
	}
	data, err := s.svc.DownloadObject(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleUploadTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, apierrors.New(apierrors.Validation, "failed to parse multipart form", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, apierrors.New(apierrors.Validation, "missing file field", err))
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeError(w, apierrors.New(apierrors.Validation, "failed to read template file", err))
		return
	}

	name := r.FormValue("name")
	tmpl, err := s.svc.UploadTemplate(r.Context(), buf.Bytes(), tenantID, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.tenantContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	templates, err := s.svc.ListTemplates(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package api exposes the document assistant over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
	"rag-assistant/internal/rag"
)

const multipartMemory = 32 << 20

// Service is the part of the engine the handlers need.
type Service interface {
	IngestFiles(ctx context.Context, files []rag.FileInput, extractor rag.Extractor) (*models.IngestReport, error)
	Query(ctx context.Context, question string) (*models.QueryResponse, error)
	Stats() models.Stats
	ClearIndex(ctx context.Context) error
}

var _ Service = (*rag.Engine)(nil)

type QueryRequest struct {
	Question string `json:"question"`
}

type UploadResponse struct {
	Message       string `json:"message"`
	UploadedCount int    `json:"uploaded_count"`
	*models.IngestReport
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	TotalChunks int    `json:"total_chunks"`
}

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	svc            Service
	extractor      rag.Extractor
	uploadDir      string
	maxUploadBytes int64
}

func NewHandler(svc Service, extractor rag.Extractor, uploadDir string, maxUploadMB int64) *Handler {
	return &Handler{
		svc:            svc,
		extractor:      extractor,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadMB << 20,
	}
}

// HandleUpload handles POST /upload with one or more multipart "files" parts.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid upload: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "No files provided"})
		return
	}
	if err := helper.CreateFolder(h.uploadDir); err != nil {
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	var inputs []rag.FileInput
	var saveErrors []models.FileError
	for _, fh := range headers {
		name := filepath.Base(fh.Filename)
		path, err := h.saveUpload(fh, name)
		if err != nil {
			log.Warn().Err(err).Str("filename", name).Msg("Failed to save upload")
			saveErrors = append(saveErrors, models.FileError{Filename: name, Error: err.Error()})
			continue
		}
		inputs = append(inputs, rag.FileInput{Path: path, Filename: name})
	}

	report, err := h.svc.IngestFiles(r.Context(), inputs, h.extractor)
	for _, in := range inputs {
		if rmErr := os.Remove(in.Path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", in.Path).Msg("Failed to remove upload")
		}
	}
	if report == nil {
		report = &models.IngestReport{}
	}
	report.FilesFailed = append(saveErrors, report.FilesFailed...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to ingest uploads")
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := UploadResponse{
		Message:       fmt.Sprintf("Successfully uploaded %d file(s)", report.FilesProcessed),
		UploadedCount: report.FilesProcessed,
		IngestReport:  report,
	}
	if report.FilesProcessed == 0 {
		resp.Message = "No files could be processed"
		sendJSON(w, http.StatusBadRequest, resp)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

func (h *Handler) saveUpload(fh *multipart.FileHeader, name string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	path := filepath.Join(h.uploadDir, id+"-"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// HandleQuery handles POST /query. The question comes from a JSON body or a form field.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req.Question = r.FormValue("question")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON: " + err.Error()})
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Question is required"})
		return
	}

	resp, err := h.svc.Query(r.Context(), question)
	if err != nil {
		log.Error().Err(err).Msg("Query failed")
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, h.svc.Stats())
}

// HandleClear handles POST and DELETE /clear requests.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearIndex(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to clear index")
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, MessageResponse{Message: "All documents cleared successfully"})
}

// HandleHealth handles GET /health requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{Status: "ok", TotalChunks: h.svc.Stats().TotalChunks})
}

// sendJSON sends a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

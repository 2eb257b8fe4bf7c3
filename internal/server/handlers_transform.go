package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jojopeligroso/MyCastle/internal/httputil"
	"github.com/jojopeligroso/MyCastle/internal/transform"
)

// maxUploadBytes caps workbook uploads at 10 MiB.
const maxUploadBytes = 10 << 20

func (s *Server) handleTransformUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid multipart body: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "file form field is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "only .xlsx files are supported")
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "reading upload: %v", err)
		return
	}
	if len(content) == 0 {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "file is empty")
		return
	}
	if len(content) > maxUploadBytes {
		httputil.RespondProblem(w, r, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}

	result, err := s.transforms.SaveUpload(content, header.Filename)
	if err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "parsing workbook: %v", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

type transformSheetRequest struct {
	UploadID  string `json:"upload_id"`
	SheetName string `json:"sheet_name"`
}

func (req transformSheetRequest) validate() error {
	if strings.TrimSpace(req.UploadID) == "" {
		return errors.New("upload_id is required")
	}
	if strings.TrimSpace(req.SheetName) == "" {
		return errors.New("sheet_name is required")
	}
	return nil
}

func (s *Server) handleTransformPreview(w http.ResponseWriter, r *http.Request) {
	var req transformSheetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.RespondProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	preview, err := s.transforms.PreviewSheet(req.UploadID, req.SheetName)
	if err != nil {
		httputil.RespondProblemf(w, r, statusForTransformError(err), "preview: %v", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, preview)
}

func (s *Server) handleTransformAnalyze(w http.ResponseWriter, r *http.Request) {
	var req transformSheetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.RespondProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	analysis, err := s.transforms.AnalyzeSheet(req.UploadID, req.SheetName)
	if err != nil {
		httputil.RespondProblemf(w, r, statusForTransformError(err), "schema analysis: %v", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, analysis)
}

type transformExecuteRequest struct {
	UploadID      string            `json:"upload_id"`
	SheetName     string            `json:"sheet_name"`
	TableName     string            `json:"table_name"`
	ColumnMapping map[string]string `json:"column_mapping"`
}

func (s *Server) handleTransformExecute(w http.ResponseWriter, r *http.Request) {
	var req transformExecuteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	switch {
	case strings.TrimSpace(req.UploadID) == "":
		httputil.RespondProblem(w, r, http.StatusBadRequest, "upload_id is required")
		return
	case strings.TrimSpace(req.SheetName) == "":
		httputil.RespondProblem(w, r, http.StatusBadRequest, "sheet_name is required")
		return
	case strings.TrimSpace(req.TableName) == "":
		httputil.RespondProblem(w, r, http.StatusBadRequest, "table_name is required")
		return
	case len(req.ColumnMapping) == 0:
		httputil.RespondProblem(w, r, http.StatusBadRequest, "column_mapping is required")
		return
	}

	result, err := s.transforms.Execute(r.Context(), req.UploadID, req.SheetName, req.TableName, req.ColumnMapping)
	if err != nil {
		httputil.RespondProblemf(w, r, statusForTransformError(err), "transformation: %v", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTransformCleanup(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")

	removed, err := s.transforms.Cleanup(uploadID)
	if err != nil {
		httputil.RespondProblemf(w, r, http.StatusInternalServerError, "cleanup: %v", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   removed,
		"upload_id": uploadID,
	})
}

func statusForTransformError(err error) int {
	if errors.Is(err, transform.ErrUploadNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

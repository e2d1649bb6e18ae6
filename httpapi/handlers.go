package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/search"
	"github.com/D-E-N/PatrowlManager/service"
)

// listResponse is one page of findings.
type listResponse struct {
	Findings    []*finding.Finding `json:"findings"`
	Page        int                `json:"page"`
	NumPages    int                `json:"num_pages"`
	PageSize    int                `json:"page_size"`
	Total       int                `json:"total"`
	HasNext     bool               `json:"has_next"`
	HasPrevious bool               `json:"has_previous"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := search.ParseQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, patrowl.NewValidationError("httpapi.List", err))
		return
	}
	page, err := s.svc.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []*finding.Finding{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{
		Findings:    items,
		Page:        page.Number,
		NumPages:    page.NumPages,
		PageSize:    page.Size,
		Total:       page.Total,
		HasNext:     page.HasNext(),
		HasPrevious: page.HasPrevious(),
	})
}

func (s *Server) handleSubresource(w http.ResponseWriter, r *http.Request) {
	id, sub := r.PathValue("id"), r.PathValue("sub")
	switch {
	case id == "asset":
		findings, err := s.svc.ListByAsset(r.Context(), sub, r.URL.Query().Get("_status"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, findings)
	case sub == "timeline":
		timeline, err := s.svc.Timeline(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, timeline)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Details(r.Context(), r.PathValue("id"), boolParam(r, "raw"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var form finding.Form
	if err := decodeJSON(r, &form); err != nil {
		s.writeError(w, r, patrowl.NewValidationError("httpapi.Edit", err))
		return
	}
	res, err := s.svc.Edit(r.Context(), r.PathValue("id"), boolParam(r, "raw"), &form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var form finding.Form
	if err := decodeJSON(r, &form); err != nil {
		s.writeError(w, r, patrowl.NewValidationError("httpapi.Add", err))
		return
	}
	f, err := s.svc.Add(r.Context(), r.Header.Get(OwnerHeader), &form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/findings/"+f.ID)
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	const op = "httpapi.Import"
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				Kind:  patrowl.KindValidation,
			})
			return
		}
		s.writeError(w, r, patrowl.NewValidationError(op, fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err)))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, patrowl.NewValidationError(op, fmt.Errorf("%w: file is required", patrowl.ErrInvalidForm)))
		return
	}
	defer patrowl.CloseWithLog(file, s.logger, "upload part")

	jobID, err := s.svc.Import(r.Context(), service.ImportForm{
		OwnerID:  r.Header.Get(OwnerHeader),
		Engine:   r.FormValue("engine"),
		MinLevel: r.FormValue("min_level"),
		File:     file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := s.svc.Compare(r.Context(), q.Get("finding_a_id"), q.Get("finding_b_id"), boolParam(r, "raw"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := finding.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, patrowl.NewValidationError("httpapi.Export", err))
		return
	}
	q, err := search.ParseQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, patrowl.NewValidationError("httpapi.Export", err))
		return
	}

	// Buffer so a failure can still produce an error response.
	var buf bytes.Buffer
	if err := s.svc.Export(r.Context(), q, format, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := "findings_" + time.Now().UTC().Format("20060102") + format.FileExtension()
	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.health.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := patrowl.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}

	var status int
	switch kind {
	case patrowl.KindNotFound:
		status = http.StatusNotFound
	case patrowl.KindValidation:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		resp.Error = "internal error"
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", patrowl.ErrInvalidForm, err)
	}
	return nil
}

// boolParam reads a flag query parameter; unparsable values are false.
func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

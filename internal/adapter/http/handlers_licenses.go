package adapthttp

import (
	"fmt"
	"net/http"

	"licensetrack/internal/domain"
)

func (s *Server) handleLicenseList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	views, err := s.licenses.List(r.Context(), userID(r), q.Get("q"), q.Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"licenses": views})
}

func (s *Server) handleLicenseCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State          string      `json:"state"`
		LicenseType    string      `json:"licenseType"`
		LicenseNumber  string      `json:"licenseNumber"`
		IssueDate      domain.Date `json:"issueDate"`
		ExpirationDate domain.Date `json:"expirationDate"`
		CERequired     float64     `json:"ceRequired"`
		CECompleted    float64     `json:"ceCompleted"`
		Notes          string      `json:"notes"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := s.licenses.Add(r.Context(), userID(r), domain.License{
		State:          req.State,
		LicenseType:    req.LicenseType,
		LicenseNumber:  req.LicenseNumber,
		IssueDate:      req.IssueDate,
		ExpirationDate: req.ExpirationDate,
		CERequired:     req.CERequired,
		CECompleted:    req.CECompleted,
		Notes:          req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleLicenseGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	v, err := s.licenses.Get(r.Context(), userID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLicenseUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch domain.LicensePatch
	if err := parseJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.licenses.Update(r.Context(), userID(r), id, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLicenseDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.licenses.Delete(r.Context(), userID(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLicenseRenew performs one renewal. The client confirms before
// calling; every call renews again.
func (s *Server) handleLicenseRenew(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	v, err := s.licenses.Renew(r.Context(), userID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLicenseExport(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filename, data, err := s.licenses.Export(r.Context(), userID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

package adapthttp

import (
	"net/http"

	"licensetrack/internal/domain"
)

func (s *Server) handleCourseList(w http.ResponseWriter, r *http.Request) {
	cs, err := s.courses.List(r.Context(), userID(r), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"courses":      cs,
		"totalCredits": domain.TotalCreditsCompleted(cs),
	})
}

func (s *Server) handleCourseCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseName     string      `json:"courseName"`
		Provider       string      `json:"provider"`
		CompletionDate domain.Date `json:"completionDate"`
		Credits        float64     `json:"credits"`
		Notes          string      `json:"notes"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.courses.Add(r.Context(), userID(r), domain.CourseCompletion{
		CourseName:     req.CourseName,
		Provider:       req.Provider,
		CompletionDate: req.CompletionDate,
		Credits:        req.Credits,
		Notes:          req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCourseUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch domain.CoursePatch
	if err := parseJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.courses.Update(r.Context(), userID(r), id, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCourseDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.courses.Delete(r.Context(), userID(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package adapthttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"licensetrack/internal/app"
	"licensetrack/internal/domain"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeServiceError maps an application error onto a status code. Anything
// unrecognized is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Msg, "field": verr.Field})
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, app.ErrSessionExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error(), "redirect": app.LoginPath})
	case errors.Is(err, app.ErrUsersExist):
		writeError(w, http.StatusConflict, err)
	default:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func parseJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// idParam parses the {id} route parameter.
func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Msg: "must be a positive integer"}
	}
	return id, nil
}

// dateQuery parses an optional YYYY-MM-DD query parameter.
func dateQuery(r *http.Request, key string) (domain.Date, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return domain.Date{}, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return domain.Date{}, &domain.ValidationError{Field: key, Msg: "must be YYYY-MM-DD"}
	}
	return d, nil
}

// staticFile reports whether reqPath names a regular file under dir.
func staticFile(dir, reqPath string) bool {
	clean := path.Clean("/" + reqPath)
	if clean == "/" || path.Ext(clean) == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean)))
	return err == nil && !fi.IsDir()
}

// pages serves the single-page app. Static assets skip the guard; every
// other path is a view and goes through it.
func (s *Server) pages() http.Handler {
	spa := spaFromDisk(s.webDir)
	guarded := s.guardPage(spa)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if staticFile(s.webDir, r.URL.Path) {
			spa.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

func spaFromDisk(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	indexPath := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if staticFile(dir, r.URL.Path) {
			fileServer.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	})
}

package adapthttp

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"licensetrack/internal/app"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			slog.Warn("health: store unreachable", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := s.dashboard.Summary(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleCalendar lists renewal events between ?from= and ?to=, defaulting
// to the current month.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	from, err := dateQuery(r, "from")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, err := dateQuery(r, "to")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	events, err := s.dashboard.Calendar(r.Context(), userID(r), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// marketingPages are the public pages listed in the sitemap.
var marketingPages = []string{
	app.HomePath,
	app.LoginPath,
	"/signup",
	"/demo",
	"/privacy",
	"/terms",
	"/contact",
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(s.baseURL, "/")
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, p := range marketingPages {
		priority := "0.5"
		if p == app.HomePath {
			priority = "1.0"
		}
		set.URLs = append(set.URLs, sitemapURL{Loc: base + p, ChangeFreq: "monthly", Priority: priority})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "User-agent: *\nAllow: /\nDisallow: /api/\nSitemap: %s/sitemap.xml\n", strings.TrimRight(s.baseURL, "/"))
}

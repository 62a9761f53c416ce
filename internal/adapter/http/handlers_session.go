package adapthttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"licensetrack/internal/app"
)

const keepAliveInterval = 25 * time.Second

// handleSessionEvents streams guard decisions for a mounted view as
// server-sent events. The stream opens with a "session" event and ends
// with a single "redirect" event once the guard stops allowing the view.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "session", newSessionResponse(sessionFrom(r.Context()))); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	view := r.URL.Query().Get("path")
	if view == "" {
		view = app.DashboardPath
	}

	redirects := make(chan app.Decision, 1)
	if token := sessionToken(r); token != "" && !s.disableAuth {
		stop := s.guard.Watch(r.Context(), token, view, func(d app.Decision) {
			select {
			case redirects <- d:
			default:
			}
		})
		defer stop()
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case d := <-redirects:
			_ = writeEvent(w, "redirect", map[string]any{
				"outcome":  d.Outcome.String(),
				"location": d.Location,
			})
			_ = rc.Flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

package domain

import "sort"

// Calendar event types.
const (
	EventRenewal    = "renewal"
	EventCEDeadline = "ce"
)

// CalendarEvent is a dated entry on the renewal calendar.
type CalendarEvent struct {
	Date      Date   `json:"date"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	LicenseID int64  `json:"licenseId"`
}

// CalendarEvents lists renewal dates falling in [from, to]. A license whose
// CE requirement is not yet met also gets a CE deadline on the same day.
// Events are ordered by date; same-day events keep license order.
func CalendarEvents(licenses []License, from, to Date) []CalendarEvent {
	out := make([]CalendarEvent, 0)
	for _, l := range licenses {
		d := l.ExpirationDate
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, CalendarEvent{
			Date:      d,
			Title:     l.State + " License Renewal",
			Type:      EventRenewal,
			LicenseID: l.ID,
		})
		if l.CEProgressPercent() < 100 {
			out = append(out, CalendarEvent{
				Date:      d,
				Title:     l.State + " CE Deadline",
				Type:      EventCEDeadline,
				LicenseID: l.ID,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

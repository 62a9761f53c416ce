package domain_test

import (
	"testing"
	"time"

	"licensetrack/internal/domain"
)

func TestIsValidSession(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.Session{ExpiresAt: exp}
	tests := []struct {
		name string
		s    *domain.Session
		now  time.Time
		want bool
	}{
		{"nil session", nil, exp.Add(-time.Hour), false},
		{"one tick before", s, exp.Add(-time.Nanosecond), true},
		{"exactly at expiry", s, exp, false},
		{"after expiry", s, exp.Add(time.Second), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.IsValidSession(tc.s, tc.now); got != tc.want {
				t.Errorf("IsValidSession = %v; want %v", got, tc.want)
			}
		})
	}
}

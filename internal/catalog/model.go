package catalog

import (
	"fmt"
	"time"
)

// Service is a bookable treatment.
type Service struct {
	ID              int64
	Name            string
	Category        string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Price renders "$99" or "$99.50".
func (s Service) Price() string {
	dollars, cents := s.PriceCents/100, s.PriceCents%100
	if cents == 0 {
		return fmt.Sprintf("$%d", dollars)
	}
	return fmt.Sprintf("$%d.%02d", dollars, cents)
}

type Staff struct {
	ID     int64
	Name   string
	Active bool
}

package catalog

import (
	"time"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// DemoServices is the head spa menu used by the memory driver and by cmd/seed.
var DemoServices = []Service{
	{ID: 1, Name: "Signature Head Spa", Category: "head_spa", DurationMinutes: 60, PriceCents: 9900, Active: true},
	{ID: 2, Name: "Deluxe Head Spa", Category: "head_spa", DurationMinutes: 90, PriceCents: 16000, Active: true},
	{ID: 3, Name: "Platinum Head Spa", Category: "head_spa", DurationMinutes: 120, PriceCents: 22000, Active: true},
}

// WeeklyRules builds one open rule per weekday from Monday through lastDay.
func WeeklyRules(staffID int64, lastDay time.Weekday, start, end schedule.Clock, from schedule.Date) []schedule.Rule {
	var rules []schedule.Rule
	for wd := time.Monday; wd <= lastDay; wd++ {
		rules = append(rules, schedule.Rule{
			StaffID:   staffID,
			Weekday:   wd,
			Start:     start,
			End:       end,
			ValidFrom: from,
		})
	}
	return rules
}

// NewDemoRepository returns a memory catalog with the demo menu and one staff
// member working Monday to Saturday, 9 to 6.
func NewDemoRepository(from schedule.Date) *MemoryRepository {
	repo := NewMemoryRepository()
	ids := make([]int64, 0, len(DemoServices))
	for _, s := range DemoServices {
		repo.AddService(s)
		ids = append(ids, s.ID)
	}
	repo.AddStaff(Staff{ID: 1, Name: "Front Desk", Active: true}, ids...)
	repo.AddRules(WeeklyRules(1, time.Saturday, schedule.NewClock(9, 0), schedule.NewClock(18, 0), from)...)
	return repo
}

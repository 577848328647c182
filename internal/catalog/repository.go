package catalog

import (
	"context"
	"errors"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

var (
	ErrServiceNotFound = errors.New("service not found")
)

// Repository is the read side of the catalog, staff roster and availability rules.
type Repository interface {
	ListActiveServices(ctx context.Context) ([]Service, error)
	GetService(ctx context.Context, id int64) (*Service, error)

	// StaffForService returns active staff ids qualified for the service, ascending.
	StaffForService(ctx context.Context, serviceID int64) ([]int64, error)

	// RulesForStaff returns the staff member's rules that recur on the weekday of date.
	// Validity ranges are filtered again by the resolver.
	RulesForStaff(ctx context.Context, staffID int64, date schedule.Date) ([]schedule.Rule, error)
}

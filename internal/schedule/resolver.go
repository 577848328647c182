package schedule

import "time"

// Rule is a recurring weekly window for one staff member. Block rules remove
// time; other rules add it.
type Rule struct {
	ID                int64
	StaffID           int64
	Weekday           time.Weekday
	Start             Clock
	End               Clock
	LocationID        *int64
	ValidFrom         Date
	ValidTo           *Date // nil means open-ended
	Block             bool
	ServiceCategories []string // empty means every category
}

// ActiveOn reports whether the rule recurs on d and d lies within its validity range.
func (r Rule) ActiveOn(d Date) bool {
	if r.Weekday != d.Weekday() {
		return false
	}
	if !r.ValidFrom.IsZero() && d.Before(r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && d.After(*r.ValidTo) {
		return false
	}
	return true
}

// Serves reports whether the rule applies to services of the given category.
// An empty category matches every rule.
func (r Rule) Serves(category string) bool {
	if category == "" || len(r.ServiceCategories) == 0 {
		return true
	}
	for _, c := range r.ServiceCategories {
		if c == category {
			return true
		}
	}
	return false
}

func (r Rule) interval() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// Query selects the rules used by Resolve.
type Query struct {
	StaffID  int64
	Date     Date
	Category string
	// LocationID, when set, drops available rules pinned to another location.
	// Block rules apply regardless of location.
	LocationID *int64
}

// Resolve turns rules into the open intervals for q.Date: the union of the
// matching available rules minus the union of the matching block rules.
// Blocks win no matter how the rules are ordered.
func Resolve(rules []Rule, q Query) []Interval {
	var open, blocked []Interval
	for _, r := range rules {
		if r.StaffID != q.StaffID || !r.ActiveOn(q.Date) {
			continue
		}
		if r.Block {
			blocked = append(blocked, r.interval())
			continue
		}
		if !r.Serves(q.Category) {
			continue
		}
		if q.LocationID != nil && r.LocationID != nil && *r.LocationID != *q.LocationID {
			continue
		}
		open = append(open, r.interval())
	}
	return Subtract(open, blocked)
}

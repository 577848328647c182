package schedule

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open range [Start, End) of clock times on one day.
type Interval struct {
	Start Clock
	End   Clock
}

func (iv Interval) Empty() bool { return iv.End <= iv.Start }

func (iv Interval) Minutes() int { return int(iv.End - iv.Start) }

func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s,%s)", iv.Start, iv.End)
}

// Union merges overlapping and touching intervals into a sorted, disjoint list.
// Empty intervals are dropped.
func Union(ivs []Interval) []Interval {
	in := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			in = append(in, iv)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start == in[j].Start {
			return in[i].End < in[j].End
		}
		return in[i].Start < in[j].Start
	})

	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes every interval of cut from base. Both inputs may be
// unsorted or overlapping; the result is sorted and disjoint.
func Subtract(base, cut []Interval) []Interval {
	b := Union(base)
	c := Union(cut)
	if len(c) == 0 {
		return b
	}

	var out []Interval
	j := 0
	for _, iv := range b {
		cur := iv
		for j < len(c) && c[j].End <= cur.Start {
			j++
		}
		k := j
		for k < len(c) && c[k].Start < cur.End {
			if c[k].Start > cur.Start {
				out = append(out, Interval{Start: cur.Start, End: c[k].Start})
			}
			if c[k].End >= cur.End {
				cur.Start = cur.End
				break
			}
			cur.Start = c[k].End
			k++
		}
		if !cur.Empty() {
			out = append(out, cur)
		}
	}
	return out
}

// Span is an absolute time range [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// ClipTo projects s onto the clock of day d in loc. The second return is false
// when s does not touch d at all.
func (s Span) ClipTo(d Date, loc *time.Location) (Interval, bool) {
	dayStart := d.Midnight(loc)
	dayEnd := d.AddDays(1).Midnight(loc)
	if !s.Start.Before(dayEnd) || !s.End.After(dayStart) {
		return Interval{}, false
	}
	start := s.Start
	if start.Before(dayStart) {
		start = dayStart
	}
	end := s.End
	if end.After(dayEnd) {
		end = dayEnd
	}
	iv := Interval{
		Start: Clock(start.Sub(dayStart) / time.Minute),
		End:   Clock((end.Sub(dayStart) + time.Minute - 1) / time.Minute),
	}
	if iv.End > EndOfDay {
		iv.End = EndOfDay
	}
	return iv, !iv.Empty()
}

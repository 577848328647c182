package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Clock is a local wall-clock time expressed in minutes after midnight.
type Clock int

const (
	MinutesPerDay       = 24 * 60
	EndOfDay      Clock = MinutesPerDay
)

var ErrInvalidClock = errors.New("invalid clock time")

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "HH:MM" or "HH:MM:SS" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	c := NewClock(h, m)
	if c > EndOfDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return c, nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// String renders 24-hour "15:04".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Kitchen renders "3:00 PM", the form used in outbound messages.
func (c Clock) Kitchen() string {
	h := c.Hour() % 24
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, c.Minute(), suffix)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"gorm.io/datatypes"
)

const DayLayout = "2006-01-02"

var ErrBadClock = errors.New("time of day must be HH:MM between 00:00 and 23:59")

// ParseClock accepts "HH:MM" or "HH:MM:SS"; seconds are dropped.
func ParseClock(s string) (datatypes.Time, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, ErrBadClock
	}
	return datatypes.NewTime(t.Hour(), t.Minute(), 0, 0), nil
}

// Clock renders a time of day as HH:MM.
func Clock(t datatypes.Time) string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Normalize truncates to the minute, sorts ascending and drops duplicates.
func Normalize(in []datatypes.Time) ([]datatypes.Time, error) {
	out := make([]datatypes.Time, 0, len(in))
	for _, t := range in {
		d := time.Duration(t)
		if d < 0 || d >= 24*time.Hour {
			return nil, ErrBadClock
		}
		out = append(out, datatypes.Time(d.Truncate(time.Minute)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	uniq := out[:0]
	for i, t := range out {
		if i > 0 && t == out[i-1] {
			continue
		}
		uniq = append(uniq, t)
	}
	return uniq, nil
}

// DayStart is midnight of t's calendar day in t's location.
func DayStart(t time.Time) time.Time {
	return now.With(t).BeginningOfDay()
}

func NextDayStart(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// At composes a calendar day with a time of day. Wall-clock based, so a
// 08:00 dose stays at 08:00 across DST changes.
func At(day time.Time, tod datatypes.Time) time.Time {
	d := time.Duration(tod)
	y, m, dd := day.Date()
	return time.Date(y, m, dd, int(d/time.Hour), int(d%time.Hour/time.Minute), 0, 0, day.Location())
}

func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses YYYY-MM-DD in loc. Empty input means fallback.
func ParseDay(s string, loc *time.Location, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DayStart(fallback.In(loc)), nil
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

package date

import (
	"errors"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

// Window is an inclusive date range, both ends rendered as YYYY-MM-DD when sent upstream.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) FromString() string { return w.From.Format(DayLayout) }
func (w Window) ToString() string   { return w.To.Format(DayLayout) }

func ParseTime(input string) (time.Time, error) {
	t, _, err := ParseTimeWithFormat(input)
	return t, err
}

func ParseTimeWithFormat(input string) (time.Time, string, error) {
	input = strings.TrimSpace(input)
	allowedFormats := []string{
		"2006-01-02 15:04:05.000000Z07:00",
		"2006-01-02T15:04:05.000000Z07:00",
		"2006-01-02 15:04:05.000000",
		"2006-01-02T15:04:05.000000",
		"2006-01-02 15:04:05.000Z07:00",
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		DayLayout,
		"02/01/2006 15:04:05",
		"02/01/2006",
	}

	for _, format := range allowedFormats {
		t, err := time.Parse(format, input)
		if err == nil {
			return t, format, nil
		}
	}

	return time.Time{}, "", errors.New("invalid datetime format")
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LookbackWindow returns the full [now-daysBack, now] window.
func LookbackWindow(now time.Time, daysBack int) Window {
	to := Day(now)
	return Window{From: to.AddDate(0, 0, -daysBack), To: to}
}

// IncrementalWindow narrows the lookback window using a stored cursor. The window starts one
// day before the cursor so late-arriving records are picked up again, but never before the
// lookback start. A cursor that cannot be parsed is ignored.
func IncrementalWindow(now time.Time, daysBack int, cursor string) Window {
	w := LookbackWindow(now, daysBack)
	if cursor == "" {
		return w
	}

	c, err := ParseTime(cursor)
	if err != nil {
		return w
	}

	start := Day(c).AddDate(0, 0, -1)
	if start.After(w.From) {
		w.From = start
	}
	if w.From.After(w.To) {
		w.From = w.To
	}

	return w
}

// Split cuts w into consecutive sub-windows spanning at most maxDays days each.
func Split(w Window, maxDays int) []Window {
	if maxDays <= 0 || w.To.Before(w.From) {
		return []Window{w}
	}

	var windows []Window
	for from := w.From; !from.After(w.To); {
		to := from.AddDate(0, 0, maxDays-1)
		if to.After(w.To) {
			to = w.To
		}
		windows = append(windows, Window{From: from, To: to})
		if !to.Before(w.To) {
			break
		}
		from = to.AddDate(0, 0, 1)
	}

	return windows
}

var weekdayOrder = map[string]int{
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
	"sunday":    7,
}

// WeekdayOrder maps an English weekday name to monday=1 ... sunday=7, 0 when unknown.
func WeekdayOrder(name string) int {
	return weekdayOrder[strings.ToLower(strings.TrimSpace(name))]
}

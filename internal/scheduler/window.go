package scheduler

import "time"

// DefaultWindowDays is how far a single request advances a query
const DefaultWindowDays = 10

// Window is the [Start, End) date range submitted in one request
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return FormatDay(w.Start) + " -> " + FormatDay(w.End)
}

// NextWindow computes the next request window for a query covered through
// coveredThrough. ok is false when there is nothing to request: the query is
// already current through today.
func NextWindow(coveredThrough, today time.Time, windowDays int) (w Window, ok bool) {
	start := Day(coveredThrough)
	today = Day(today)

	end := start.AddDate(0, 0, windowDays)
	if end.After(today) {
		end = today
	}
	if !end.After(start) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

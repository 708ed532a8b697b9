// Package guardrail decides whether the current wall-clock time falls inside
// the configured run window.
package guardrail

import (
	"fmt"
	"time"

	"github.com/alvmarrod/newsapi-requester/internal/config"
)

const minutesPerDay = 24 * 60

// Gate is a target time of day (UTC) plus a symmetric tolerance
type Gate struct {
	Hour   int
	Minute int
	Window time.Duration
}

// Decision is the outcome of a gate check, with the times formatted HH:MM
type Decision struct {
	InWindow bool
	Start    string
	End      string
	Current  string
}

// New builds a gate from an "HH:MM" target and a window in minutes
func New(target string, windowMinutes int) (*Gate, error) {
	hour, minute, err := config.ParseTargetTime(target)
	if err != nil {
		return nil, err
	}
	if windowMinutes < 0 {
		return nil, fmt.Errorf("guardrail window must be >= 0 minutes, got %d", windowMinutes)
	}
	return &Gate{Hour: hour, Minute: minute, Window: time.Duration(windowMinutes) * time.Minute}, nil
}

// Target renders the configured target as HH:MM
func (g *Gate) Target() string {
	return formatMinutes(g.Hour*60 + g.Minute)
}

// Check evaluates now (converted to UTC, seconds ignored) against the window
// [target - Window, target + Window], wrapping around midnight.
func (g *Gate) Check(now time.Time) Decision {
	now = now.UTC()
	current := now.Hour()*60 + now.Minute()
	target := g.Hour*60 + g.Minute
	window := int(g.Window / time.Minute)
	start := target - window
	end := target + window

	d := Decision{
		Start:   formatMinutes(start),
		End:     formatMinutes(end),
		Current: formatMinutes(current),
	}

	switch {
	case end-start >= minutesPerDay-1:
		d.InWindow = true
	case start >= 0 && end < minutesPerDay:
		d.InWindow = current >= start && current <= end
	default:
		s, e := normalize(start), normalize(end)
		if s > e {
			d.InWindow = current >= s || current <= e
		} else {
			d.InWindow = current >= s && current <= e
		}
	}
	return d
}

func normalize(mins int) int {
	return ((mins % minutesPerDay) + minutesPerDay) % minutesPerDay
}

func formatMinutes(mins int) string {
	mins = normalize(mins)
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

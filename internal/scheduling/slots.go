package scheduling

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"imovia/pkg/models"
)

// gridStep is the spacing between candidate slot starts. Finer than the
// viewing duration so gaps between bookings stay usable.
const gridStep = 30 * time.Minute

// Slot is one bookable viewing interval in the agent's timezone
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// interval is a half-open busy span [start, end)
type interval struct {
	start time.Time
	end   time.Time
}

// Slots lazily yields the agent's free viewing slots with starts in
// [from, to), chronologically. A candidate is yielded when its full viewing
// interval fits inside a weekly window and does not touch any busy viewing
// expanded by the buffer on both sides.
func Slots(av *models.AgentAvailability, busy []models.ScheduledViewing, from, to time.Time) (iter.Seq[Slot], error) {
	loc, err := time.LoadLocation(av.Timezone)
	if err != nil {
		return nil, fmt.Errorf("availability timezone %q: %w", av.Timezone, err)
	}

	duration := time.Duration(av.ViewingDurationMinutes) * time.Minute
	if duration <= 0 {
		return nil, fmt.Errorf("viewing duration must be positive, got %d minutes", av.ViewingDurationMinutes)
	}

	windows := make(map[int][]models.AvailabilityWindow)
	for _, w := range av.Windows {
		if _, _, err := parseClock(w.StartTime); err != nil {
			return nil, fmt.Errorf("window start %q: %w", w.StartTime, err)
		}
		if _, _, err := parseClock(w.EndTime); err != nil {
			return nil, fmt.Errorf("window end %q: %w", w.EndTime, err)
		}
		windows[w.DayOfWeek] = append(windows[w.DayOfWeek], w)
	}

	blocked := expand(busy, time.Duration(av.BufferMinutes)*time.Minute)
	from = from.In(loc)
	to = to.In(loc)

	seq := func(yield func(Slot) bool) {
		day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
		for ; day.Before(to); day = day.AddDate(0, 0, 1) {
			for _, w := range windows[int(day.Weekday())] {
				winStart := atClock(day, w.StartTime)
				winEnd := atClock(day, w.EndTime)

				for cand := winStart; !cand.Add(duration).After(winEnd); cand = cand.Add(gridStep) {
					if cand.Before(from) || !cand.Before(to) {
						continue
					}
					if overlapsAny(blocked, cand, cand.Add(duration)) {
						continue
					}
					if !yield(Slot{Start: cand, End: cand.Add(duration)}) {
						return
					}
				}
			}
		}
	}
	return seq, nil
}

// expand widens each blocking viewing by the buffer on both sides
func expand(busy []models.ScheduledViewing, buffer time.Duration) []interval {
	out := make([]interval, 0, len(busy))
	for i := range busy {
		v := &busy[i]
		if !v.Blocks() {
			continue
		}
		out = append(out, interval{
			start: v.ScheduledTime.Add(-buffer),
			end:   v.End().Add(buffer),
		})
	}
	return out
}

func overlapsAny(blocked []interval, start, end time.Time) bool {
	for _, b := range blocked {
		if start.Before(b.end) && b.start.Before(end) {
			return true
		}
	}
	return false
}

// atClock anchors an HH:MM clock string on the given day. The windows were
// validated up front, so parse errors cannot happen here.
func atClock(day time.Time, clock string) time.Time {
	h, m, _ := parseClock(clock)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func parseClock(clock string) (hour, minute int, err error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return hour, minute, nil
}

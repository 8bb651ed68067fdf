package scheduling

import "time"

// SlotQuery is everything the availability engine needs for one day.
type SlotQuery struct {
	Date Date
	// Hours is the rule for Date's weekday; nil means no rule (closed).
	Hours           *DayHours
	Policy          Policy
	DurationMinutes int
	// Existing appointments on Date. Entries for other dates or in statuses
	// that do not occupy capacity are ignored.
	Existing []Appointment
	Now      time.Time
	// Location is the tenant's zone used to place Date on the timeline. Nil means UTC.
	Location *time.Location
}

// AvailableSlots returns the bookable start times for q in ascending order.
// It is pure: the same query always yields the same result.
func AvailableSlots(q SlotQuery) []TimeOfDay {
	if q.Hours == nil || !q.Hours.IsOpen || q.Hours.Weekday != q.Date.Weekday() {
		return nil
	}
	if q.DurationMinutes <= 0 || q.Policy.Validate() != nil {
		return nil
	}
	open, closeAt := q.Hours.Open, q.Hours.Close
	if closeAt > EndOfDay {
		closeAt = EndOfDay
	}
	if closeAt <= open {
		return nil
	}

	earliest := q.Now.Add(time.Duration(q.Policy.MinAdvanceHours) * time.Hour)
	busy := occupying(q.Date, q.Existing)

	var slots []TimeOfDay
	for start := open; start.Add(q.DurationMinutes) <= closeAt; start = start.Add(q.Policy.SlotIntervalMinutes) {
		if q.Date.At(start, q.Location).Before(earliest) {
			continue
		}
		end := start.Add(q.DurationMinutes)
		if CountOverlapping(busy, start, end) < q.Policy.MaxCapacityPerSlot {
			slots = append(slots, start)
		}
	}
	return slots
}

// CountOverlapping counts appointments whose interval intersects [start,end).
// Callers pass only capacity-occupying appointments for the same date.
func CountOverlapping(appts []Appointment, start, end TimeOfDay) int {
	n := 0
	for _, a := range appts {
		if Overlaps(start, end, a.Start, a.End) {
			n++
		}
	}
	return n
}

func occupying(date Date, appts []Appointment) []Appointment {
	out := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Date == date && a.Status.OccupiesCapacity() {
			out = append(out, a)
		}
	}
	return out
}

// SlotBookable re-applies the engine's constraints to a single candidate.
// The write path calls it inside its transaction with a fresh snapshot.
func SlotBookable(q SlotQuery, start TimeOfDay) bool {
	for _, s := range AvailableSlots(q) {
		if s == start {
			return true
		}
	}
	return false
}

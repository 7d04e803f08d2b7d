package scheduler

import "time"

// SlotRule describes the bookable calendar: DaysAhead days starting today
// (UTC), each from DayStart to DayEnd minutes after midnight, cut into
// fixed slots of Minutes.
type SlotRule struct {
	DaysAhead int
	DayStart  int
	DayEnd    int
	Minutes   int
}

func DefaultSlotRule() SlotRule {
	return SlotRule{DaysAhead: 7, DayStart: 9 * 60, DayEnd: 17 * 60, Minutes: 30}
}

// Generate projects the rule onto the doctor's sessions. Only slots starting
// strictly after asOf are returned; a slot is unavailable iff it overlaps a
// session that is not cancelled.
func (r SlotRule) Generate(doctorID string, asOf time.Time, sessions []Session) []Slot {
	if r.Minutes <= 0 || r.DaysAhead <= 0 {
		return nil
	}

	asOf = asOf.UTC()
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	step := time.Duration(r.Minutes) * time.Minute

	var blocking []Session
	for _, s := range sessions {
		if s.DoctorID == doctorID && s.Blocking() {
			blocking = append(blocking, s)
		}
	}

	var slots []Slot
	for d := 0; d < r.DaysAhead; d++ {
		base := day.AddDate(0, 0, d)
		for m := r.DayStart; m+r.Minutes <= r.DayEnd; m += r.Minutes {
			start := base.Add(time.Duration(m) * time.Minute)
			if !start.After(asOf) {
				continue
			}
			end := start.Add(step)
			slots = append(slots, Slot{
				DoctorID:  doctorID,
				Start:     start,
				End:       end,
				Duration:  r.Minutes,
				Available: !overlapsAny(start, end, blocking),
			})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, sessions []Session) bool {
	for _, s := range sessions {
		if Overlaps(start, end, s.Start(), s.End()) {
			return true
		}
	}
	return false
}

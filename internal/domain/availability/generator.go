package availability

import (
	"sort"
	"time"
)

// DefaultStride is the grid on which slot start times are placed.
const DefaultStride = 15 * time.Minute

// GenerateParams describes one local availability window on one date.
type GenerateParams struct {
	Date        Date
	WindowStart TimeOfDay
	WindowEnd   TimeOfDay
	Duration    time.Duration
	Location    *time.Location
	Stride      time.Duration
}

// Generate cuts a local window into consecutive slots of p.Duration. Start
// times lie on a p.Stride grid anchored at the window start; after each slot
// the cursor moves to the first grid point at or after that slot's end, so
// slots never overlap. A slot is emitted only when it ends by the window end.
// Missing or inverted windows yield no slots.
func Generate(p GenerateParams) []Slot {
	if !p.WindowStart.Valid || !p.WindowEnd.Valid || p.Duration <= 0 {
		return nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	stride := p.Stride
	if stride <= 0 {
		stride = DefaultStride
	}

	start := p.Date.At(p.WindowStart, loc).UTC()
	end := p.Date.At(p.WindowEnd, loc).UTC()
	if !end.After(start) {
		return nil
	}

	dow := p.Date.DayOfWeek()
	var slots []Slot
	for cur := start; !cur.Add(p.Duration).After(end); {
		slotEnd := cur.Add(p.Duration)
		slots = append(slots, Slot{
			StartUTC:  cur,
			EndUTC:    slotEnd,
			Date:      p.Date,
			DayOfWeek: dow,
		})
		steps := (slotEnd.Sub(start) + stride - 1) / stride
		cur = start.Add(steps * stride)
	}
	return slots
}

// Overlaps reports whether [start1,end1) and [start2,end2) intersect.
// Adjacent ranges do not overlap; a zero-length range strictly inside the
// other does.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && end1.After(start2)
}

// ExcludeOccupied drops every slot that intersects an occupied range.
func ExcludeOccupied(slots []Slot, occupied []OccupiedRange) []Slot {
	if len(occupied) == 0 {
		return slots
	}
	result := make([]Slot, 0, len(slots))
	for _, s := range slots {
		conflicted := false
		for _, o := range occupied {
			if Overlaps(s.StartUTC, s.EndUTC, o.Start, o.End) {
				conflicted = true
				break
			}
		}
		if !conflicted {
			result = append(result, s)
		}
	}
	return result
}

// StartingAfter keeps slots whose start is strictly after cutoff.
func StartingAfter(slots []Slot, cutoff time.Time) []Slot {
	result := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.StartUTC.After(cutoff) {
			result = append(result, s)
		}
	}
	return result
}

// SortSlots orders slots by start time. Ties keep generation order.
func SortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartUTC.Before(slots[j].StartUTC)
	})
}

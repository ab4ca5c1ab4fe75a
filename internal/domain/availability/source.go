package availability

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scheduleSource produces candidate slots for one date. Implementations are
// built once per request and hold no I/O.
type scheduleSource interface {
	slotsFor(d Date, duration time.Duration) []Slot
	kind() string
}

// namedSource generates from the practitioner's active named schedules.
type namedSource struct {
	serviceID uuid.UUID
	stride    time.Duration
	schedules []resolvedSchedule
}

type resolvedSchedule struct {
	id    uuid.UUID
	name  string
	loc   *time.Location
	byDay map[int][]TimeSlotRule
}

func newNamedSource(serviceID uuid.UUID, schedules []Schedule, fallback *time.Location, stride time.Duration, logger zerolog.Logger) *namedSource {
	src := &namedSource{serviceID: serviceID, stride: stride}
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		rs := resolvedSchedule{
			id:    s.ID,
			name:  s.Name,
			loc:   resolveLocation(s.Timezone, fallback, logger.With().Str("schedule_id", s.ID.String()).Logger()),
			byDay: make(map[int][]TimeSlotRule),
		}
		for _, r := range s.Rules {
			if r.IsActive {
				rs.byDay[r.DayOfWeek] = append(rs.byDay[r.DayOfWeek], r)
			}
		}
		src.schedules = append(src.schedules, rs)
	}
	return src
}

func (n *namedSource) kind() string { return "named" }

func (n *namedSource) slotsFor(d Date, duration time.Duration) []Slot {
	var out []Slot
	dow := d.DayOfWeek()
	for _, s := range n.schedules {
		for _, r := range s.byDay[dow] {
			slots := Generate(GenerateParams{
				Date:        d,
				WindowStart: r.StartTime,
				WindowEnd:   r.EndTime,
				Duration:    duration,
				Location:    s.loc,
				Stride:      n.stride,
			})
			for i := range slots {
				id, name := s.id, s.name
				slots[i].ServiceID = n.serviceID
				slots[i].ScheduleID = &id
				slots[i].ScheduleName = &name
			}
			out = append(out, slots...)
		}
	}
	return out
}

// legacySource generates from per-service weekly windows, letting a date
// override replace the weekly window for its date.
type legacySource struct {
	serviceID uuid.UUID
	stride    time.Duration
	loc       *time.Location
	weekly    map[int][]ServiceSchedule
	overrides map[Date][]ScheduleAvailability
}

func newLegacySource(serviceID uuid.UUID, weekly []ServiceSchedule, overrides []ScheduleAvailability, loc *time.Location, stride time.Duration) *legacySource {
	src := &legacySource{
		serviceID: serviceID,
		stride:    stride,
		loc:       loc,
		weekly:    make(map[int][]ServiceSchedule),
		overrides: make(map[Date][]ScheduleAvailability),
	}
	for _, w := range weekly {
		if w.IsActive {
			src.weekly[w.DayOfWeek] = append(src.weekly[w.DayOfWeek], w)
		}
	}
	for _, o := range overrides {
		src.overrides[o.Date] = append(src.overrides[o.Date], o)
	}
	return src
}

func (l *legacySource) kind() string { return "legacy" }

func (l *legacySource) slotsFor(d Date, duration time.Duration) []Slot {
	var windows [][2]TimeOfDay
	if ovs, ok := l.overrides[d]; ok {
		for _, o := range ovs {
			if o.IsActive {
				windows = append(windows, [2]TimeOfDay{o.StartTime, o.EndTime})
			}
		}
	} else {
		for _, w := range l.weekly[d.DayOfWeek()] {
			windows = append(windows, [2]TimeOfDay{w.StartTime, w.EndTime})
		}
	}

	var out []Slot
	for _, w := range windows {
		slots := Generate(GenerateParams{
			Date:        d,
			WindowStart: w[0],
			WindowEnd:   w[1],
			Duration:    duration,
			Location:    l.loc,
			Stride:      l.stride,
		})
		for i := range slots {
			slots[i].ServiceID = l.serviceID
		}
		out = append(out, slots...)
	}
	return out
}

// resolveLocation loads an IANA zone name, falling back on empty or invalid
// names. A nil fallback means UTC.
func resolveLocation(name string, fallback *time.Location, logger zerolog.Logger) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", name).Str("fallback", fallback.String()).Msg("invalid timezone, using fallback")
		return fallback
	}
	return loc
}

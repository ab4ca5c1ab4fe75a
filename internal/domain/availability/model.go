package availability

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses that occupy a practitioner's time.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
)

// Defaults applied when a practitioner has no schedule preference row or a
// booking lacks the optional fields.
const (
	DefaultTimezone               = "UTC"
	DefaultMaxDaysBuffer          = 30
	DefaultDaysAhead              = 30
	DefaultBookingDurationMinutes = 60
)

// ServiceInfo is the read-only view of a bookable service.
type ServiceInfo struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	PractitionerID  *uuid.UUID `db:"primary_practitioner_id" json:"primary_practitioner_id,omitempty"`
}

// Schedule maps to the practitioner_schedule table: a named, timezone-tagged
// container of weekly rules such as "Regular Hours" or "Summer Hours".
type Schedule struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	PractitionerID uuid.UUID      `db:"practitioner_id" json:"practitioner_id"`
	Name           string         `db:"name" json:"name"`
	Timezone       string         `db:"timezone" json:"timezone"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	Rules          []TimeSlotRule `json:"rules"`
}

// TimeSlotRule is one weekly window of a Schedule. DayOfWeek is 0 for Monday
// through 6 for Sunday.
type TimeSlotRule struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ScheduleID uuid.UUID `db:"schedule_id" json:"schedule_id"`
	DayOfWeek  int       `db:"day_of_week" json:"day_of_week"`
	StartTime  TimeOfDay `db:"start_time" json:"start_time"`
	EndTime    TimeOfDay `db:"end_time" json:"end_time"`
	IsActive   bool      `db:"is_active" json:"is_active"`
}

// SchedulePreference is the per-practitioner booking policy. Use
// DefaultPreference for practitioners that never saved one.
type SchedulePreference struct {
	PractitionerID uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	Timezone       string    `db:"timezone" json:"timezone"`
	BufferHours    int       `db:"buffer_hours" json:"buffer_hours"`
	MinDaysBuffer  int       `db:"min_days_buffer" json:"min_days_buffer"`
	MaxDaysBuffer  int       `db:"max_days_buffer" json:"max_days_buffer"`
	HolidaysOn     bool      `db:"holidays_on" json:"holidays_on"`
	Holidays       []Date    `db:"holidays" json:"holidays"`
}

// DefaultPreference returns the policy used when none is stored.
func DefaultPreference(practitionerID uuid.UUID) SchedulePreference {
	return SchedulePreference{
		PractitionerID: practitionerID,
		Timezone:       DefaultTimezone,
		MaxDaysBuffer:  DefaultMaxDaysBuffer,
	}
}

// IsHoliday reports whether d is excluded by the holiday calendar.
func (p SchedulePreference) IsHoliday(d Date) bool {
	if !p.HolidaysOn {
		return false
	}
	for _, h := range p.Holidays {
		if h == d {
			return true
		}
	}
	return false
}

// ServiceSchedule is the legacy per-service weekly window that predates
// named schedules.
type ServiceSchedule struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ServiceID uuid.UUID `db:"service_id" json:"service_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime TimeOfDay `db:"start_time" json:"start_time"`
	EndTime   TimeOfDay `db:"end_time" json:"end_time"`
	IsActive  bool      `db:"is_active" json:"is_active"`
}

// ScheduleAvailability overrides the legacy weekly window on one date. An
// inactive override closes the date.
type ScheduleAvailability struct {
	ID                uuid.UUID `db:"id" json:"id"`
	ServiceScheduleID uuid.UUID `db:"service_schedule_id" json:"service_schedule_id"`
	Date              Date      `db:"date" json:"date"`
	StartTime         TimeOfDay `db:"start_time" json:"start_time"`
	EndTime           TimeOfDay `db:"end_time" json:"end_time"`
	IsActive          bool      `db:"is_active" json:"is_active"`
}

// Booking is the subset of a booking row needed for collision checks.
type Booking struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	PractitionerID         uuid.UUID  `db:"practitioner_id" json:"practitioner_id"`
	StartTime              time.Time  `db:"start_time" json:"start_time"`
	EndTime                *time.Time `db:"end_time" json:"end_time,omitempty"`
	Status                 string     `db:"status" json:"status"`
	BufferMinutes          *int       `db:"buffer_time" json:"buffer_time,omitempty"`
	ServiceDurationMinutes *int       `db:"service_duration_minutes" json:"service_duration_minutes,omitempty"`
}

// Occupies reports whether the booking blocks time.
func (b Booking) Occupies() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// Occupied returns the booking's blocked range widened by its buffer on both
// sides. A booking without an end time lasts its service duration.
func (b Booking) Occupied() OccupiedRange {
	end := b.StartTime
	if b.EndTime != nil {
		end = *b.EndTime
	} else {
		minutes := DefaultBookingDurationMinutes
		if b.ServiceDurationMinutes != nil && *b.ServiceDurationMinutes > 0 {
			minutes = *b.ServiceDurationMinutes
		}
		end = b.StartTime.Add(time.Duration(minutes) * time.Minute)
	}
	var buffer time.Duration
	if b.BufferMinutes != nil && *b.BufferMinutes > 0 {
		buffer = time.Duration(*b.BufferMinutes) * time.Minute
	}
	return OccupiedRange{
		Start: b.StartTime.Add(-buffer).UTC(),
		End:   end.Add(buffer).UTC(),
	}
}

// OccupiedRange is a UTC interval during which no slot may be offered.
type OccupiedRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Slot is a computed bookable window. It is never persisted.
type Slot struct {
	StartUTC     time.Time  `json:"start_utc"`
	EndUTC       time.Time  `json:"end_utc"`
	Date         Date       `json:"date"`
	DayOfWeek    int        `json:"day_of_week"`
	ServiceID    uuid.UUID  `json:"service_id"`
	ScheduleID   *uuid.UUID `json:"schedule_id,omitempty"`
	ScheduleName *string    `json:"schedule_name,omitempty"`
}

// Query is the input of Service.GetAvailability. Nil dates fall back to
// today and today+DaysAhead; a non-positive DaysAhead uses the service
// default.
type Query struct {
	ServiceID uuid.UUID
	StartDate *Date
	EndDate   *Date
	DaysAhead int
}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

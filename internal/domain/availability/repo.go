package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ServiceLookup interface {
	// Service returns ErrNotFound when the service does not exist.
	Service(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)
	ActiveServiceIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type PractitionerLookup interface {
	BufferTimeMinutes(ctx context.Context, practitionerID uuid.UUID) (int, error)
}

type ScheduleStore interface {
	ActiveSchedules(ctx context.Context, practitionerID uuid.UUID) ([]Schedule, error)
}

type OverrideStore interface {
	Preference(ctx context.Context, practitionerID uuid.UUID) (SchedulePreference, error)
	DateOverrides(ctx context.Context, practitionerID, serviceID uuid.UUID, r DateRange) ([]ScheduleAvailability, error)
	ServiceSchedules(ctx context.Context, serviceID uuid.UUID) ([]ServiceSchedule, error)
}

type BookingSource interface {
	// OccupiedRanges returns the buffered ranges of pending and confirmed
	// bookings that overlap [from, to).
	OccupiedRanges(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]OccupiedRange, error)
}

package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func timeOfDay(t pgtype.Time) TimeOfDay {
	if !t.Valid {
		return TimeOfDay{}
	}
	return TimeOfDay{Minutes: int(t.Microseconds / int64(time.Minute/time.Microsecond)), Valid: true}
}

func sqlDate(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// =========== Service / Practitioner lookups ===========

type serviceRepoPG struct{ db queryable }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceLookup { return &serviceRepoPG{db: pool} }

func (r *serviceRepoPG) Service(ctx context.Context, id uuid.UUID) (*ServiceInfo, error) {
	var s ServiceInfo
	err := r.db.QueryRow(ctx, `
		SELECT id, duration_minutes, primary_practitioner_id
		FROM services WHERE id = $1`, id).
		Scan(&s.ID, &s.DurationMinutes, &s.PractitionerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "select service", Err: err}
	}
	return &s, nil
}

func (r *serviceRepoPG) ActiveServiceIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM services
		WHERE is_active AND primary_practitioner_id IS NOT NULL
		ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list active services", Err: err}
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "scan service id", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list active services", Err: err}
	}
	return ids, nil
}

type practitionerRepoPG struct{ db queryable }

func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerLookup {
	return &practitionerRepoPG{db: pool}
}

func (r *practitionerRepoPG) BufferTimeMinutes(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	var minutes *int
	err := r.db.QueryRow(ctx, `SELECT buffer_time_minutes FROM practitioners WHERE id = $1`, practitionerID).Scan(&minutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, &StorageError{Op: "select practitioner buffer", Err: err}
	}
	if minutes == nil || *minutes < 0 {
		return 0, nil
	}
	return *minutes, nil
}

// =========== Schedule Store ===========

type scheduleRepoPG struct{ db queryable }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleStore { return &scheduleRepoPG{db: pool} }

const ruleCols = `id, schedule_id, day_of_week, start_time, end_time, is_active`

func (r *scheduleRepoPG) ActiveSchedules(ctx context.Context, practitionerID uuid.UUID) ([]Schedule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, practitioner_id, name, COALESCE(timezone, ''), is_active
		FROM practitioner_schedules
		WHERE practitioner_id = $1 AND is_active
		ORDER BY created_at, id`, practitionerID)
	if err != nil {
		return nil, &StorageError{Op: "select schedules", Err: err}
	}
	var schedules []Schedule
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.PractitionerID, &s.Name, &s.Timezone, &s.IsActive); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "scan schedule", Err: err}
		}
		index[s.ID] = len(schedules)
		schedules = append(schedules, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "select schedules", Err: err}
	}
	if len(schedules) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	ruleRows, err := r.db.Query(ctx, `SELECT `+ruleCols+` FROM schedule_time_slots
		WHERE schedule_id = ANY($1) AND is_active
		ORDER BY day_of_week, start_time`, ids)
	if err != nil {
		return nil, &StorageError{Op: "select schedule rules", Err: err}
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var (
			rule       TimeSlotRule
			start, end pgtype.Time
		)
		if err := ruleRows.Scan(&rule.ID, &rule.ScheduleID, &rule.DayOfWeek, &start, &end, &rule.IsActive); err != nil {
			return nil, &StorageError{Op: "scan schedule rule", Err: err}
		}
		rule.StartTime, rule.EndTime = timeOfDay(start), timeOfDay(end)
		if i, ok := index[rule.ScheduleID]; ok {
			schedules[i].Rules = append(schedules[i].Rules, rule)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, &StorageError{Op: "select schedule rules", Err: err}
	}
	return schedules, nil
}

// =========== Override Store ===========

type overrideRepoPG struct{ db queryable }

func NewOverrideRepoPG(pool *pgxpool.Pool) OverrideStore { return &overrideRepoPG{db: pool} }

// Preference resolves nullable columns to their defaults here so callers
// never see a partially populated preference.
func (r *overrideRepoPG) Preference(ctx context.Context, practitionerID uuid.UUID) (SchedulePreference, error) {
	var (
		tz                            *string
		bufferHours, minDays, maxDays *int
		holidaysOn                    *bool
		holidays                      []time.Time
	)
	err := r.db.QueryRow(ctx, `
		SELECT timezone, buffer_hours, min_days_buffer, max_days_buffer, holidays_on, holidays
		FROM schedule_preferences WHERE practitioner_id = $1`, practitionerID).
		Scan(&tz, &bufferHours, &minDays, &maxDays, &holidaysOn, &holidays)
	pref := DefaultPreference(practitionerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return pref, nil
	}
	if err != nil {
		return pref, &StorageError{Op: "select preference", Err: err}
	}
	if tz != nil && *tz != "" {
		pref.Timezone = *tz
	}
	if bufferHours != nil && *bufferHours > 0 {
		pref.BufferHours = *bufferHours
	}
	if minDays != nil && *minDays > 0 {
		pref.MinDaysBuffer = *minDays
	}
	if maxDays != nil && *maxDays >= 0 {
		pref.MaxDaysBuffer = *maxDays
	}
	if holidaysOn != nil {
		pref.HolidaysOn = *holidaysOn
	}
	for _, h := range holidays {
		pref.Holidays = append(pref.Holidays, DateOf(h))
	}
	return pref, nil
}

const serviceScheduleCols = `id, service_id, day_of_week, start_time, end_time, is_active`

func (r *overrideRepoPG) ServiceSchedules(ctx context.Context, serviceID uuid.UUID) ([]ServiceSchedule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+serviceScheduleCols+` FROM service_schedules
		WHERE service_id = $1 AND is_active
		ORDER BY day_of_week, start_time`, serviceID)
	if err != nil {
		return nil, &StorageError{Op: "select service schedules", Err: err}
	}
	defer rows.Close()
	var items []ServiceSchedule
	for rows.Next() {
		var (
			ss         ServiceSchedule
			start, end pgtype.Time
		)
		if err := rows.Scan(&ss.ID, &ss.ServiceID, &ss.DayOfWeek, &start, &end, &ss.IsActive); err != nil {
			return nil, &StorageError{Op: "scan service schedule", Err: err}
		}
		ss.StartTime, ss.EndTime = timeOfDay(start), timeOfDay(end)
		items = append(items, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "select service schedules", Err: err}
	}
	return items, nil
}

func (r *overrideRepoPG) DateOverrides(ctx context.Context, practitionerID, serviceID uuid.UUID, dr DateRange) ([]ScheduleAvailability, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sa.id, sa.service_schedule_id, sa.date, sa.start_time, sa.end_time, sa.is_active
		FROM schedule_availabilities sa
		JOIN service_schedules ss ON ss.id = sa.service_schedule_id
		JOIN services s ON s.id = ss.service_id
		WHERE ss.service_id = $1 AND s.primary_practitioner_id = $2
			AND sa.date BETWEEN $3 AND $4
		ORDER BY sa.date, sa.start_time`,
		serviceID, practitionerID, sqlDate(dr.Start), sqlDate(dr.End))
	if err != nil {
		return nil, &StorageError{Op: "select date overrides", Err: err}
	}
	defer rows.Close()
	var items []ScheduleAvailability
	for rows.Next() {
		var (
			sa         ScheduleAvailability
			date       time.Time
			start, end pgtype.Time
		)
		if err := rows.Scan(&sa.ID, &sa.ServiceScheduleID, &date, &start, &end, &sa.IsActive); err != nil {
			return nil, &StorageError{Op: "scan date override", Err: err}
		}
		sa.Date = DateOf(date)
		sa.StartTime, sa.EndTime = timeOfDay(start), timeOfDay(end)
		items = append(items, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "select date overrides", Err: err}
	}
	return items, nil
}

// =========== Booking Collision Source ===========

type bookingRepoPG struct{ db queryable }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingSource { return &bookingRepoPG{db: pool} }

func (r *bookingRepoPG) OccupiedRanges(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]OccupiedRange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.id, b.practitioner_id, b.start_time, b.end_time, b.status, b.buffer_time, s.duration_minutes
		FROM bookings b
		LEFT JOIN services s ON s.id = b.service_id
		WHERE b.practitioner_id = $1
			AND b.status IN ('pending', 'confirmed')
			AND b.start_time < $3
			AND COALESCE(b.end_time, b.start_time) >= $2 - INTERVAL '1 day'
		ORDER BY b.start_time`, practitionerID, from, to)
	if err != nil {
		return nil, &StorageError{Op: "select bookings", Err: err}
	}
	defer rows.Close()
	var ranges []OccupiedRange
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.PractitionerID, &b.StartTime, &b.EndTime, &b.Status, &b.BufferMinutes, &b.ServiceDurationMinutes); err != nil {
			return nil, &StorageError{Op: "scan booking", Err: err}
		}
		if b.Occupies() {
			ranges = append(ranges, b.Occupied())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "select bookings", Err: err}
	}
	return ranges, nil
}

package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wellnest/wellnest/internal/platform/cache"
)

const (
	cacheKeyPrefix      = "availability:"
	generationKeyPrefix = "availability-gen:"
	minGenerationTTL    = 24 * time.Hour
)

// Service computes bookable slots for a service. It keeps no per-request
// state; concurrent calls are independent.
type Service struct {
	services      ServiceLookup
	practitioners PractitionerLookup
	schedules     ScheduleStore
	overrides     OverrideStore
	bookings      BookingSource

	clock     Clock
	logger    zerolog.Logger
	stride    time.Duration
	daysAhead int
	cache     cache.Store
	cacheTTL  time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithStride sets the start-time grid. Non-positive values keep DefaultStride.
func WithStride(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stride = d
		}
	}
}

// WithDaysAhead sets the default query span when no end date is given.
func WithDaysAhead(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.daysAhead = days
		}
	}
}

// WithCache memoises results in store for ttl. A nil store or non-positive
// ttl disables caching.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

func NewService(services ServiceLookup, practitioners PractitionerLookup, schedules ScheduleStore, overrides OverrideStore, bookings BookingSource, opts ...Option) *Service {
	s := &Service{
		services:      services,
		practitioners: practitioners,
		schedules:     schedules,
		overrides:     overrides,
		bookings:      bookings,
		clock:         systemClock{},
		logger:        zerolog.Nop(),
		stride:        DefaultStride,
		daysAhead:     DefaultDaysAhead,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAvailability returns the open slots of q.ServiceID ordered by start
// time. Every "nothing bookable" condition yields an empty, non-nil slice;
// only a missing service, a service without practitioner and storage
// failures are errors.
func (s *Service) GetAvailability(ctx context.Context, q Query) ([]Slot, error) {
	return s.availability(ctx, q, true)
}

// Warm recomputes the default window of a service and stores it in the
// cache, replacing any entry already there. It returns the number of slots.
func (s *Service) Warm(ctx context.Context, serviceID uuid.UUID) (int, error) {
	if !s.cacheEnabled() {
		return 0, nil
	}
	slots, err := s.availability(ctx, Query{ServiceID: serviceID}, false)
	return len(slots), err
}

func (s *Service) availability(ctx context.Context, q Query, readCache bool) ([]Slot, error) {
	svc, err := s.services.Service(ctx, q.ServiceID)
	if err != nil {
		return nil, storageErr("load service", err)
	}
	if svc.PractitionerID == nil || *svc.PractitionerID == uuid.Nil {
		return nil, ErrNoPractitionerAssociated
	}
	practitionerID := *svc.PractitionerID
	log := s.logger.With().
		Str("service_id", svc.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Logger()

	var (
		pref          SchedulePreference
		named         []Schedule
		bufferMinutes int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.overrides.Preference(gctx, practitionerID)
		if err != nil {
			return storageErr("load preference", err)
		}
		pref = p
		return nil
	})
	g.Go(func() error {
		sch, err := s.schedules.ActiveSchedules(gctx, practitionerID)
		if err != nil {
			return storageErr("load schedules", err)
		}
		named = sch
		return nil
	})
	g.Go(func() error {
		m, err := s.practitioners.BufferTimeMinutes(gctx, practitionerID)
		if err != nil {
			return storageErr("load practitioner buffer", err)
		}
		bufferMinutes = m
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("availability: load failed")
		return nil, err
	}

	now := s.clock.Now().UTC()
	prefLoc := resolveLocation(pref.Timezone, time.UTC, log)
	window := s.bookingWindow(q, pref, DateOf(now.In(prefLoc)))
	if window.Empty() {
		return []Slot{}, nil
	}

	cutoff := now.Add(time.Duration(pref.BufferHours) * time.Hour)
	// The generation is read before bookings so that a result computed
	// from bookings older than the last invalidation lands on a dead key.
	var key string
	if gen, ok := s.generation(ctx, practitionerID, log); ok {
		key = cacheKey(practitionerID, gen, svc.ID, window)
	}
	if readCache && key != "" {
		if cached, ok := s.cached(ctx, key, log); ok {
			return StartingAfter(cached, cutoff), nil
		}
	}

	slotDuration := time.Duration(svc.DurationMinutes+max(bufferMinutes, 0)) * time.Minute
	if slotDuration <= 0 {
		return []Slot{}, nil
	}

	source, occupied, err := s.loadSourceAndBookings(ctx, svc.ID, practitionerID, named, window, prefLoc, log)
	if err != nil {
		log.Error().Err(err).Msg("availability: load failed")
		return nil, err
	}

	slots := make([]Slot, 0)
	for _, d := range window.Days() {
		if pref.IsHoliday(d) {
			continue
		}
		slots = append(slots, source.slotsFor(d, slotDuration)...)
	}
	slots = ExcludeOccupied(slots, occupied)
	slots = StartingAfter(slots, cutoff)
	SortSlots(slots)

	log.Debug().
		Str("source", source.kind()).
		Str("start", window.Start.String()).
		Str("end", window.End.String()).
		Int("slots", len(slots)).
		Msg("availability computed")

	if key != "" {
		s.store(ctx, key, slots, log)
	}
	return slots, nil
}

// bookingWindow applies the defaults and clamps the range to the
// practitioner's advance-booking window.
func (s *Service) bookingWindow(q Query, pref SchedulePreference, today Date) DateRange {
	daysAhead := q.DaysAhead
	if daysAhead <= 0 {
		daysAhead = s.daysAhead
	}
	start := today
	if q.StartDate != nil {
		start = *q.StartDate
	}
	end := start.AddDays(daysAhead)
	if q.EndDate != nil {
		end = *q.EndDate
	}

	if earliest := today.AddDays(pref.MinDaysBuffer); start.Before(earliest) {
		start = earliest
	}
	if latest := today.AddDays(pref.MaxDaysBuffer); end.After(latest) {
		end = latest
	}
	return DateRange{Start: start, End: end}
}

// loadSourceAndBookings picks the schedule source and reads the occupied
// ranges concurrently.
func (s *Service) loadSourceAndBookings(ctx context.Context, serviceID, practitionerID uuid.UUID, named []Schedule, window DateRange, loc *time.Location, log zerolog.Logger) (scheduleSource, []OccupiedRange, error) {
	var (
		weekly    []ServiceSchedule
		overrides []ScheduleAvailability
		occupied  []OccupiedRange
	)
	useNamed := len(named) > 0

	// Pad by a day on each side so zone offsets never cut off a booking.
	from := window.Start.At(TimeOfDay{}, loc).Add(-24 * time.Hour).UTC()
	to := window.End.AddDays(1).At(TimeOfDay{}, loc).Add(24 * time.Hour).UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.bookings.OccupiedRanges(gctx, practitionerID, from, to)
		if err != nil {
			return storageErr("load bookings", err)
		}
		occupied = o
		return nil
	})
	if !useNamed {
		g.Go(func() error {
			w, err := s.overrides.ServiceSchedules(gctx, serviceID)
			if err != nil {
				return storageErr("load service schedules", err)
			}
			weekly = w
			return nil
		})
		g.Go(func() error {
			o, err := s.overrides.DateOverrides(gctx, practitionerID, serviceID, window)
			if err != nil {
				return storageErr("load date overrides", err)
			}
			overrides = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if useNamed {
		return newNamedSource(serviceID, named, loc, s.stride, log), occupied, nil
	}
	return newLegacySource(serviceID, weekly, overrides, loc, s.stride), occupied, nil
}

// InvalidatePractitioner drops every cached availability result for the
// practitioner. The booking write path calls it after inserting or
// cancelling a booking. Bumping the generation first retires results of
// calculations still in flight.
func (s *Service) InvalidatePractitioner(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	genTTL := max(minGenerationTTL, 2*s.cacheTTL)
	if err := s.cache.Set(ctx, generationKeyPrefix+practitionerID.String(), []byte(uuid.NewString()), genTTL); err != nil {
		return 0, fmt.Errorf("bump availability generation: %w", err)
	}
	n, err := s.cache.DeletePrefix(ctx, cacheKeyPrefix+practitionerID.String()+":")
	if err != nil {
		return n, fmt.Errorf("invalidate availability cache: %w", err)
	}
	return n, nil
}

func cacheKey(practitionerID uuid.UUID, generation string, serviceID uuid.UUID, r DateRange) string {
	return fmt.Sprintf("%s%s:%s:%s:%s:%s", cacheKeyPrefix, practitionerID, generation, serviceID, r.Start, r.End)
}

// generation returns the practitioner's current cache generation. ok is
// false when caching is off or the generation cannot be read, in which case
// the cache is bypassed entirely.
func (s *Service) generation(ctx context.Context, practitionerID uuid.UUID, log zerolog.Logger) (string, bool) {
	if !s.cacheEnabled() {
		return "", false
	}
	b, ok, err := s.cache.Get(ctx, generationKeyPrefix+practitionerID.String())
	if err != nil {
		log.Warn().Err(err).Msg("availability generation read failed")
		return "", false
	}
	if !ok {
		return "0", true
	}
	return string(b), true
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

// cached returns a previously computed result. Cache faults count as misses.
func (s *Service) cached(ctx context.Context, key string, log zerolog.Logger) ([]Slot, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	slots := make([]Slot, 0)
	if err := json.Unmarshal(b, &slots); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("availability cache entry corrupt")
		return nil, false
	}
	return slots, true
}

func (s *Service) store(ctx context.Context, key string, slots []Slot, log zerolog.Logger) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(slots)
	if err != nil {
		log.Warn().Err(err).Msg("availability cache encode failed")
		return
	}
	if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}

// IsStorageError reports whether err came from the storage layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

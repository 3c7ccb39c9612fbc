// Package transit merges the static schedule with a live GTFS-Realtime feed
// to produce upcoming arrivals for a set of configured stops.
package transit

import (
	"fmt"
	"sort"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/seanrees/gtfs-upcoming/fetch"
	"github.com/seanrees/gtfs-upcoming/metrics"
	"github.com/seanrees/gtfs-upcoming/model"
	"github.com/seanrees/gtfs-upcoming/schedule"
)

// Clock is the indirection used in place of time.Now, so tests can pin
// "now" instead of racing the wall clock.
type Clock interface {
	Now() time.Time
}

// systemClock is the Clock used outside of tests.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock, backed by time.Now.
var SystemClock Clock = systemClock{}

// Engine merges the Database's static schedule with a Fetcher's live feed.
type Engine struct {
	db    *schedule.Database
	feed  fetch.Fetcher
	clock Clock
	log   *zap.Logger

	// scheduleWindow is how far ahead GetScheduled looks.
	scheduleWindow time.Duration
}

// New constructs an Engine. clock may be nil, in which case SystemClock is
// used.
func New(db *schedule.Database, feed fetch.Fetcher, clock Clock, log *zap.Logger) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:             db,
		feed:           feed,
		clock:          clock,
		log:            log,
		scheduleWindow: 120 * time.Minute,
	}
}

// parseTime parses an extended HH:MM:SS (hours may run to 24+ to denote the
// following day) against the Engine's current date as a base.
func (e *Engine) parseTime(s string) (time.Time, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}

	now := e.clock.Now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	dayDelta := 0
	if h >= 24 {
		dayDelta = h / 24
		h %= 24
	}

	return base.AddDate(0, 0, dayDelta).Add(
		time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second,
	), nil
}

func deltaSeconds(a, b time.Time) float64 {
	return a.Sub(b).Seconds()
}

// GetScheduled returns the purely-scheduled upcoming arrivals at
// interestingStops over the next 120 minutes, sorted ascending by
// DueInSeconds.
func (e *Engine) GetScheduled(interestingStops []string) ([]model.Upcoming, error) {
	start := time.Now()
	defer func() { metrics.ScheduledSeconds.Observe(time.Since(start).Seconds()) }()

	now := e.clock.Now()
	end := now.Add(e.scheduleWindow)

	var ret []model.Upcoming

	for _, stopID := range interestingStops {
		matches, err := e.db.GetScheduledFor(stopID, now, end)
		if err != nil {
			return nil, fmt.Errorf("getting schedule for stop %s: %w", stopID, err)
		}

		for _, m := range matches {
			due, err := e.parseTime(m.StopTime.ArrivalTime)
			if err != nil {
				e.log.Warn("skipping stop_time with unparseable arrival_time",
					zap.String("trip_id", m.Trip.ID), zap.Error(err))
				continue
			}
			ret = append(ret, upcomingFromTrip(m.Trip, stopID, model.SourceSchedule, due, e.clock.Now(), false, false))
		}
	}

	metrics.ScheduledReturned.Observe(float64(len(ret)))

	sort.Slice(ret, func(i, j int) bool { return ret[i].DueInSeconds < ret[j].DueInSeconds })
	return ret, nil
}

// GetLive fetches the realtime feed and merges it against the static
// schedule, producing one Upcoming per matched FeedEntity.
func (e *Engine) GetLive(interestingStops []string) ([]model.Upcoming, error) {
	start := time.Now()
	defer func() { metrics.LiveSeconds.Observe(time.Since(start).Seconds()) }()

	raw, err := e.feed.Fetch()
	if err != nil {
		return nil, fmt.Errorf("fetching realtime feed: %w", err)
	}

	msg := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling realtime feed: %w", err)
	}

	var ret []model.Upcoming
	var early, onTime, delayed, notUpdate, unexpected, added, canceledCount int

	current := e.clock.Now()

	for _, entity := range msg.Entity {
		tu := entity.GetTripUpdate()
		if tu == nil {
			notUpdate++
			continue
		}

		desc := tu.GetTrip()
		sr := desc.GetScheduleRelationship()

		scheduled := sr == gtfsproto.TripDescriptor_SCHEDULED
		canceled := sr == gtfsproto.TripDescriptor_CANCELED
		wasAdded := sr == gtfsproto.TripDescriptor_ADDED

		trip, ok := e.db.GetTrip(desc.GetTripId())
		if !ok && wasAdded {
			trip, ok = e.buildTripFromUpdate(tu, interestingStops)
		}
		if !ok {
			continue
		}

		if !scheduled && !canceled && !wasAdded {
			e.log.Warn("unexpected schedule_relationship",
				zap.String("trip_id", desc.GetTripId()), zap.String("schedule_relationship", sr.String()))
			unexpected++
			continue
		}

		stopID, sequence, arrival, found := firstInterestingStopTime(trip, interestingStops)
		if !found {
			continue
		}
		arrivalTime, err := e.parseTime(arrival)
		if err != nil {
			e.log.Warn("skipping trip with unparseable arrival_time", zap.String("trip_id", trip.ID), zap.Error(err))
			continue
		}

		updated := arrivalTime
		if scheduled {
			for _, stu := range tu.GetStopTimeUpdate() {
				if int(stu.GetStopSequence()) > sequence {
					break
				}
				if arr := stu.GetArrival(); arr != nil {
					if arr.Delay != nil {
						updated = updated.Add(time.Duration(arr.GetDelay()) * time.Second)
					}
					if arr.Time != nil {
						updated = time.Unix(arr.GetTime(), 0).In(arrivalTime.Location())
					}
				}
			}

			if current.After(updated) {
				continue
			}

			switch {
			case updated.Before(arrivalTime):
				early++
			case updated.Equal(arrivalTime):
				onTime++
			default:
				delayed++
			}
		}

		if canceled {
			canceledCount++
		}
		if wasAdded {
			added++
		}

		ret = append(ret, upcomingFromTrip(trip, stopID, model.SourceLive, updated, current, canceled, wasAdded))
	}

	metrics.MatchedTrips.WithLabelValues("ontime").Observe(float64(onTime))
	metrics.MatchedTrips.WithLabelValues("early").Observe(float64(early))
	metrics.MatchedTrips.WithLabelValues("delayed").Observe(float64(delayed))
	metrics.EntitiesIgnored.WithLabelValues("wrong_type").Observe(float64(notUpdate))
	metrics.EntitiesIgnored.WithLabelValues("not_scheduled").Observe(float64(unexpected))
	metrics.EntitiesReturned.Observe(float64(len(msg.Entity)))

	return ret, nil
}

// GetUpcoming merges GetScheduled and GetLive: live entries take priority
// over their scheduled counterpart (matched by trip_id), leftover scheduled
// trips not seen in the live feed are appended, canceled trips are
// dropped, and the result is sorted ascending by DueInSeconds.
func (e *Engine) GetUpcoming(interestingStops []string) ([]model.Upcoming, error) {
	start := time.Now()
	defer func() { metrics.UpcomingSeconds.Observe(time.Since(start).Seconds()) }()

	scheduled, err := e.GetScheduled(interestingStops)
	if err != nil {
		return nil, err
	}

	knownTrips := make(map[string]model.Upcoming, len(scheduled))
	for _, s := range scheduled {
		knownTrips[s.TripID] = s
	}

	ret, err := e.GetLive(interestingStops)
	if err != nil {
		return nil, err
	}

	matched := 0
	for _, t := range ret {
		if _, ok := knownTrips[t.TripID]; ok {
			delete(knownTrips, t.TripID)
			matched++
		}
	}
	for _, v := range knownTrips {
		ret = append(ret, v)
	}

	metrics.ScheduledAndLive.Observe(float64(matched))

	filtered := ret[:0]
	for _, t := range ret {
		if !t.Canceled {
			filtered = append(filtered, t)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].DueInSeconds < filtered[j].DueInSeconds })

	return filtered, nil
}

// buildTripFromUpdate synthesizes a Trip for an ADDED trip_update that has
// no static counterpart, using the route's fields inferred at load time.
func (e *Engine) buildTripFromUpdate(tu *gtfsproto.TripUpdate, interestingStops []string) (model.Trip, bool) {
	tripID := tu.GetTrip().GetTripId()

	route, ok := e.db.GetRoute(tu.GetTrip().GetRouteId())
	if !ok {
		e.log.Debug("ADDED trip references unknown route, skipping", zap.String("trip_id", tripID))
		return model.Trip{}, false
	}

	interesting := make(map[string]struct{}, len(interestingStops))
	for _, s := range interestingStops {
		interesting[s] = struct{}{}
	}

	var stopTimes []model.StopTime
	for _, stu := range tu.GetStopTimeUpdate() {
		stopID := stu.GetStopId()
		if _, ok := interesting[stopID]; !ok {
			continue
		}

		var ts int64
		switch {
		case stu.GetArrival() != nil && stu.GetArrival().Time != nil:
			ts = stu.GetArrival().GetTime()
		case stu.GetDeparture() != nil && stu.GetDeparture().Time != nil:
			ts = stu.GetDeparture().GetTime()
		default:
			e.log.Warn("ADDED trip stop has no arrival or departure time, ignoring",
				zap.String("trip_id", tripID), zap.String("stop_id", stopID))
			continue
		}

		hms := time.Unix(ts, 0).Format("15:04:05")
		stopTimes = append(stopTimes, model.StopTime{
			TripID:        tripID,
			StopID:        stopID,
			StopSequence:  int(stu.GetStopSequence()),
			ArrivalTime:   hms,
			DepartureTime: hms,
		})
	}

	if len(stopTimes) == 0 {
		e.log.Debug("ADDED trip matches a route but references no interesting stops", zap.String("trip_id", tripID))
		return model.Trip{}, false
	}

	return model.Trip{
		ID:          tripID,
		Headsign:    route.InferredHeadsign,
		DirectionID: route.InferredDirectionID,
		ServiceID:   route.InferredServiceID,
		Route:       route,
		StopTimes:   stopTimes,
	}, true
}

// firstInterestingStopTime returns the first StopTime on trip whose stop_id
// is in interestingStops.
func firstInterestingStopTime(trip model.Trip, interestingStops []string) (stopID string, sequence int, arrivalTime string, found bool) {
	interesting := make(map[string]struct{}, len(interestingStops))
	for _, s := range interestingStops {
		interesting[s] = struct{}{}
	}
	for _, st := range trip.StopTimes {
		if _, ok := interesting[st.StopID]; ok {
			return st.StopID, st.StopSequence, st.ArrivalTime, true
		}
	}
	return "", 0, "", false
}

func upcomingFromTrip(trip model.Trip, stopID, source string, due, current time.Time, canceled, addedToSchedule bool) model.Upcoming {
	return model.Upcoming{
		TripID:          trip.ID,
		Route:           trip.Route.ShortName,
		RouteType:       trip.Route.Type.String(),
		Headsign:        trip.Headsign,
		Direction:       trip.DirectionID,
		StopID:          stopID,
		DueTime:         due.Format("15:04:05"),
		DueInSeconds:    deltaSeconds(due, current),
		Source:          source,
		Canceled:        canceled,
		AddedToSchedule: addedToSchedule,
	}
}

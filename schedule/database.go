// Package schedule implements the in-memory GTFS schedule database: a
// purpose-built, load-once, read-only index over stop_times, trips, routes,
// calendar and calendar_dates. It is not a generic GTFS query engine.
package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seanrees/gtfs-upcoming/loader"
	"github.com/seanrees/gtfs-upcoming/metrics"
	"github.com/seanrees/gtfs-upcoming/model"
)

// requiredFiles are validated to exist before a Load is attempted, so that
// an incomplete GTFS directory is reported with a clear, named cause
// instead of surfacing as a generic read error partway through loading.
var requiredFiles = []string{
	"stop_times.txt",
	"trips.txt",
	"routes.txt",
	"calendar.txt",
	"calendar_dates.txt",
}

// ValidateDirectory checks that dir contains every file the Database needs.
// It returns an error naming the first missing file.
func ValidateDirectory(dir string) error {
	for _, name := range requiredFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("missing required GTFS file %q: %w", name, err)
		}
	}
	return nil
}

// Database is the in-memory, immutable-after-load GTFS schedule index.
type Database struct {
	dataDir          string
	interestingStops []string
	loadAllStops     bool
	loader           *loader.Loader
	log              *zap.Logger

	stopIndex   map[string][]model.StopTime
	trips       map[string]model.Trip
	routes      map[string]*model.Route
	calendar    map[string]model.Calendar
	exceptions  map[string]model.CalendarException
}

// New constructs a Database for dataDir. If interestingStops is empty, the
// stop index covers every stop in the bundle.
func New(dataDir string, interestingStops []string, ld *loader.Loader, log *zap.Logger) *Database {
	if log == nil {
		log = zap.NewNop()
	}
	return &Database{
		dataDir:          dataDir,
		interestingStops: interestingStops,
		loadAllStops:     len(interestingStops) == 0,
		loader:           ld,
		log:              log,
	}
}

// Load populates the database. It must be called exactly once; the
// Database is read-only thereafter.
func (d *Database) Load() error {
	start := time.Now()
	defer func() {
		metrics.ScheduleLoadSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := ValidateDirectory(d.dataDir); err != nil {
		return err
	}

	stopIndex, tripIDs, err := d.loadStopIndex()
	if err != nil {
		return fmt.Errorf("loading stop_times.txt: %w", err)
	}
	d.stopIndex = stopIndex

	routes, err := d.loadRoutes()
	if err != nil {
		return fmt.Errorf("loading routes.txt: %w", err)
	}
	d.routes = routes

	trips, err := d.loadTrips(tripIDs, routes)
	if err != nil {
		return fmt.Errorf("loading trips.txt: %w", err)
	}
	d.trips = trips

	calendar, err := d.loadCalendar()
	if err != nil {
		return fmt.Errorf("loading calendar.txt: %w", err)
	}
	d.calendar = calendar

	exceptions, err := d.loadExceptions()
	if err != nil {
		return fmt.Errorf("loading calendar_dates.txt: %w", err)
	}
	d.exceptions = exceptions

	metrics.ScheduleTripsLoaded.Observe(float64(len(d.trips)))

	d.log.Info("schedule database loaded",
		zap.Int("trips", len(d.trips)),
		zap.Int("routes", len(d.routes)),
		zap.Int("stops_indexed", len(d.stopIndex)))

	return nil
}

func (d *Database) path(name string) string {
	return filepath.Join(d.dataDir, name)
}

// loadStopIndex builds the stop_id -> []StopTime index (filtered to
// interestingStops, or unfiltered if none were configured), plus the set of
// trip_ids it references.
func (d *Database) loadStopIndex() (map[string][]model.StopTime, map[string]struct{}, error) {
	var filter loader.Filter
	if !d.loadAllStops {
		acceptable := make(map[string]struct{}, len(d.interestingStops))
		for _, s := range d.interestingStops {
			acceptable[s] = struct{}{}
		}
		filter = loader.Filter{"stop_id": acceptable}
	}

	rows, err := d.loader.Load(d.path("stop_times.txt"), filter)
	if err != nil {
		return nil, nil, err
	}

	index := map[string][]model.StopTime{}
	tripIDs := map[string]struct{}{}

	for _, row := range rows {
		st, err := stopTimeFromRow(row)
		if err != nil {
			d.log.Debug("skipping malformed stop_time row", zap.Error(err))
			continue
		}
		index[st.StopID] = append(index[st.StopID], st)
		tripIDs[st.TripID] = struct{}{}
	}

	return index, tripIDs, nil
}

func stopTimeFromRow(row loader.Row) (model.StopTime, error) {
	seq, err := parseStopSequence(row["stop_sequence"])
	if err != nil {
		return model.StopTime{}, err
	}
	if row["trip_id"] == "" {
		return model.StopTime{}, fmt.Errorf("empty trip_id")
	}
	if row["stop_id"] == "" {
		return model.StopTime{}, fmt.Errorf("empty stop_id")
	}
	return model.StopTime{
		TripID:        row["trip_id"],
		StopID:        row["stop_id"],
		StopSequence:  seq,
		ArrivalTime:   row["arrival_time"],
		DepartureTime: row["departure_time"],
	}, nil
}

func parseStopSequence(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid stop_sequence %q: %w", s, err)
	}
	return n, nil
}

// loadTrips re-reads stop_times.txt filtered to tripIDs (grouped by
// trip_id), loads trips.txt filtered to the same set, and joins each trip
// to its route. Trips referencing an unknown route are dropped with a
// debug log, matching the referential-errors policy in spec.md §7.
func (d *Database) loadTrips(tripIDs map[string]struct{}, routes map[string]*model.Route) (map[string]model.Trip, error) {
	acceptable := make(map[string]struct{}, len(tripIDs))
	for id := range tripIDs {
		acceptable[id] = struct{}{}
	}
	filter := loader.Filter{"trip_id": acceptable}

	stopTimeRows, err := d.loader.Load(d.path("stop_times.txt"), filter)
	if err != nil {
		return nil, err
	}

	stopTimesByTrip := map[string][]model.StopTime{}
	for _, row := range stopTimeRows {
		st, err := stopTimeFromRow(row)
		if err != nil {
			d.log.Debug("skipping malformed stop_time row", zap.Error(err))
			continue
		}
		stopTimesByTrip[st.TripID] = append(stopTimesByTrip[st.TripID], st)
	}
	for tripID, sts := range stopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool { return sts[i].StopSequence < sts[j].StopSequence })
		stopTimesByTrip[tripID] = sts
	}

	tripRows, err := d.loader.Load(d.path("trips.txt"), filter)
	if err != nil {
		return nil, err
	}

	trips := map[string]model.Trip{}
	firstTripForRoute := map[string]bool{}

	for _, row := range tripRows {
		tripID := row["trip_id"]
		if tripID == "" {
			continue
		}
		routeID := row["route_id"]
		route, ok := routes[routeID]
		if !ok {
			d.log.Debug("dropping trip referencing unknown route",
				zap.String("trip_id", tripID), zap.String("route_id", routeID))
			continue
		}

		trip := model.Trip{
			ID:          tripID,
			Headsign:    row["trip_headsign"],
			DirectionID: row["direction_id"],
			ServiceID:   row["service_id"],
			Route:       route,
			StopTimes:   stopTimesByTrip[tripID],
		}
		trips[tripID] = trip

		if !firstTripForRoute[routeID] {
			firstTripForRoute[routeID] = true
			route.InferredHeadsign = trip.Headsign
			route.InferredDirectionID = trip.DirectionID
			route.InferredServiceID = trip.ServiceID
		}
	}

	return trips, nil
}

func (d *Database) loadRoutes() (map[string]*model.Route, error) {
	rows, err := d.loader.Load(d.path("routes.txt"), nil)
	if err != nil {
		return nil, err
	}

	routes := map[string]*model.Route{}
	for _, row := range rows {
		id := row["route_id"]
		if id == "" {
			continue
		}
		rt, ok := model.ParseRouteType(row["route_type"])
		if !ok {
			d.log.Debug("skipping route with invalid route_type",
				zap.String("route_id", id), zap.String("route_type", row["route_type"]))
			continue
		}
		routes[id] = &model.Route{
			ID:        id,
			ShortName: row["route_short_name"],
			LongName:  row["route_long_name"],
			Type:      rt,
		}
	}
	return routes, nil
}

func (d *Database) loadCalendar() (map[string]model.Calendar, error) {
	rows, err := d.loader.Load(d.path("calendar.txt"), nil)
	if err != nil {
		return nil, err
	}

	calendar := map[string]model.Calendar{}
	for _, row := range rows {
		id := row["service_id"]
		if id == "" {
			continue
		}
		start, err := model.ParseDate(row["start_date"])
		if err != nil {
			d.log.Debug("skipping calendar row with invalid start_date", zap.String("service_id", id), zap.Error(err))
			continue
		}
		end, err := model.ParseDate(row["end_date"])
		if err != nil {
			d.log.Debug("skipping calendar row with invalid end_date", zap.String("service_id", id), zap.Error(err))
			continue
		}
		var weekday [7]string
		for i, col := range calendarColumns {
			weekday[i] = row[col]
		}
		calendar[id] = model.Calendar{
			ServiceID: id,
			Weekday:   weekday,
			StartDate: start,
			EndDate:   end,
		}
	}
	return calendar, nil
}

var calendarColumns = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

func (d *Database) loadExceptions() (map[string]model.CalendarException, error) {
	rows, err := d.loader.Load(d.path("calendar_dates.txt"), nil)
	if err != nil {
		return nil, err
	}

	exceptions := map[string]model.CalendarException{}
	for _, row := range rows {
		id := row["service_id"]
		if id == "" {
			continue
		}
		date, err := model.ParseDate(row["date"])
		if err != nil {
			d.log.Debug("skipping calendar_dates row with invalid date", zap.String("service_id", id), zap.Error(err))
			continue
		}
		if _, ok := exceptions[id]; !ok {
			exceptions[id] = model.CalendarException{}
		}
		exceptions[id][date] = row["exception_type"]
	}
	return exceptions, nil
}

// GetTrip returns the trip with the given id, and whether it was found.
func (d *Database) GetTrip(tripID string) (model.Trip, bool) {
	t, ok := d.trips[tripID]
	metrics.ScheduleTripRequests.WithLabelValues(found(ok)).Inc()
	return t, ok
}

// GetRoute returns the route with the given id, and whether it was found.
func (d *Database) GetRoute(routeID string) (*model.Route, bool) {
	r, ok := d.routes[routeID]
	return r, ok
}

func found(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// IsValidServiceDay reports whether trip runs on date, per spec.md §4.2:
// look up the trip's calendar, check the date window, then the weekday
// pattern overridden by any exception on that exact date.
func (d *Database) IsValidServiceDay(date model.Date, trip model.Trip) bool {
	cal, ok := d.calendar[trip.ServiceID]
	if !ok {
		d.log.Error("service not found in calendar", zap.String("service_id", trip.ServiceID))
		return false
	}

	if date.Before(cal.StartDate) || date.After(cal.EndDate) {
		return false
	}

	exc, hasExc := d.exceptions[trip.ServiceID][date]

	if cal.Weekday[date.Weekday()] == model.CalendarNotAvailable {
		return hasExc && exc == model.ExceptionServiceAdded
	}
	return !(hasExc && exc == model.ExceptionServiceRemoved)
}

// GetScheduledFor returns the trips with a StopTime at stopID whose arrival
// falls within [start, end] (inclusive on both ends), along with the
// matching StopTime for each.
//
// The −1 day back-dating of startServiceDate accounts for trips whose
// arrival_time hours exceed 24: those are attributed to the previous
// service date even though the instant they describe lands within the
// current calendar day. Duplicates (a trip satisfying the window on more
// than one service_date) are kept: this is intentional for routes that
// call at the same stop on consecutive days within a query window, and
// callers that need a single entry per trip must dedupe themselves.
// Returned order is the stop's natural StopTime order; callers that need
// sorting apply it themselves.
func (d *Database) GetScheduledFor(stopID string, start, end time.Time) ([]ScheduledStop, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid window: end %v before start %v", end, start)
	}

	startServiceDate := model.DateFromTime(start).AddDays(-1)
	endServiceDate := model.DateFromTime(end)

	var out []ScheduledStop

	for _, st := range d.stopIndex[stopID] {
		timeOfDay, dayDelta, ok := parseArrivalOffset(st.ArrivalTime)
		if !ok {
			d.log.Debug("skipping stop_time with malformed arrival_time",
				zap.String("trip_id", st.TripID), zap.String("arrival_time", st.ArrivalTime))
			continue
		}

		trip, ok := d.trips[st.TripID]
		if !ok {
			continue
		}

		for sd := startServiceDate; !sd.After(endServiceDate); sd = sd.AddDays(1) {
			if !d.IsValidServiceDay(sd, trip) {
				continue
			}

			arrival := sd.Time(start.Location()).Add(timeOfDay).AddDate(0, 0, dayDelta)
			if arrival.Before(start) || arrival.After(end) {
				continue
			}

			out = append(out, ScheduledStop{
				Trip:           trip,
				StopTime:       st,
				ServiceDate:    sd,
				ArrivalInstant: arrival,
			})
		}
	}

	metrics.ScheduleResponseSize.Observe(float64(len(out)))
	return out, nil
}

// ScheduledStop is one (trip, stop_time) pair produced by GetScheduledFor,
// resolved to a concrete arrival instant for a specific service date.
type ScheduledStop struct {
	Trip           model.Trip
	StopTime       model.StopTime
	ServiceDate    model.Date
	ArrivalInstant time.Time
}

// parseArrivalOffset parses a GTFS HH:MM:SS time-of-day, which may carry an
// hour component of 24 or more to denote a time past midnight on the
// following service date. It returns the time-of-day as a Duration since
// midnight (0..24h) and the number of days to add to the service date.
func parseArrivalOffset(s string) (timeOfDay time.Duration, dayDelta int, ok bool) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, 0, false
	}
	if m < 0 || m > 59 || sec < 0 || sec > 59 || h < 0 {
		return 0, 0, false
	}
	if h >= 24 {
		dayDelta = h / 24
		h = h % 24
	}
	timeOfDay = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	return timeOfDay, dayDelta, true
}

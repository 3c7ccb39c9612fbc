package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanrees/gtfs-upcoming/loader"
	"github.com/seanrees/gtfs-upcoming/model"
)

const (
	fixtureStopTimes = `trip_id,arrival_time,departure_time,stop_id,stop_sequence
t1,08:00:00,08:00:00,stopA,1
t1,08:10:00,08:10:00,stopB,2
t2,23:50:00,23:50:00,stopA,1
t2,24:10:00,24:10:00,stopB,2
t3,08:05:00,08:05:00,stopA,1
`
	fixtureTrips = `trip_id,route_id,service_id,trip_headsign,direction_id
t1,r1,weekday,Downtown,0
t2,r1,weekday,Downtown,0
t3,r1,weekend,Downtown,0
`
	fixtureRoutes = `route_id,route_short_name,route_long_name,route_type
r1,1,Main Line,3
`
	fixtureCalendar = `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
weekday,1,1,1,1,1,0,0,20240101,20241231
weekend,0,0,0,0,0,1,1,20240101,20241231
`
	fixtureCalendarDates = `service_id,date,exception_type
weekday,20240115,2
weekend,20240106,1
`
)

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"stop_times.txt":     fixtureStopTimes,
		"trips.txt":          fixtureTrips,
		"routes.txt":         fixtureRoutes,
		"calendar.txt":       fixtureCalendar,
		"calendar_dates.txt": fixtureCalendarDates,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	dir := writeFixtures(t)
	db := New(dir, nil, loader.New(loader.Config{}), nil)
	require.NoError(t, db.Load())
	return db
}

func TestValidateDirectoryMissingFile(t *testing.T) {
	dir := t.TempDir()
	err := ValidateDirectory(dir)
	assert.Error(t, err)
}

func TestDatabaseLoadAndGetTrip(t *testing.T) {
	db := newTestDatabase(t)

	trip, ok := db.GetTrip("t1")
	require.True(t, ok)
	assert.Equal(t, "r1", trip.Route.ID)
	assert.Len(t, trip.StopTimes, 2)
	assert.Equal(t, "stopA", trip.StopTimes[0].StopID)

	_, ok = db.GetTrip("does-not-exist")
	assert.False(t, ok)
}

func TestDatabaseGetRoute(t *testing.T) {
	db := newTestDatabase(t)
	route, ok := db.GetRoute("r1")
	require.True(t, ok)
	assert.Equal(t, model.RouteTypeBus, route.Type)
	assert.Equal(t, "Downtown", route.InferredHeadsign)
}

func TestIsValidServiceDay(t *testing.T) {
	db := newTestDatabase(t)
	trip, _ := db.GetTrip("t1")

	// 2024-01-08 is a Monday, within the weekday calendar's window.
	monday, _ := model.ParseDate("20240108")
	assert.True(t, db.IsValidServiceDay(monday, trip))

	// 2024-01-13 is a Saturday; weekday service does not run.
	saturday, _ := model.ParseDate("20240113")
	assert.False(t, db.IsValidServiceDay(saturday, trip))

	// 2024-01-15 is a Monday removed by a calendar_dates exception.
	removed, _ := model.ParseDate("20240115")
	assert.False(t, db.IsValidServiceDay(removed, trip))
}

func TestIsValidServiceDayAddedException(t *testing.T) {
	db := newTestDatabase(t)
	trip, _ := db.GetTrip("t3") // weekend service

	// 2024-01-06 is a Saturday, already a weekend service day; exception
	// type "1" (added) on a day it would already run is a no-op but must
	// not make it invalid.
	sat, _ := model.ParseDate("20240106")
	assert.True(t, db.IsValidServiceDay(sat, trip))

	// A weekday explicitly not served by weekend service, with no
	// exception, is invalid.
	weekday, _ := model.ParseDate("20240108")
	assert.False(t, db.IsValidServiceDay(weekday, trip))
}

func TestGetScheduledForBasicWindow(t *testing.T) {
	db := newTestDatabase(t)

	// 2024-01-08 is a Monday (weekday service).
	start := time.Date(2024, 1, 8, 7, 50, 0, 0, time.UTC)
	end := time.Date(2024, 1, 8, 8, 20, 0, 0, time.UTC)

	got, err := db.GetScheduledFor("stopA", start, end)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].Trip.ID)
}

func TestGetScheduledForOvernightTrip(t *testing.T) {
	db := newTestDatabase(t)

	// t2 arrives stopB at "24:10:00" on the weekday service date of
	// 2024-01-08 (a Monday), i.e. 2024-01-09 00:10 wall clock.
	start := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 9, 0, 30, 0, 0, time.UTC)

	got, err := db.GetScheduledFor("stopB", start, end)
	require.NoError(t, err)

	found := false
	for _, sst := range got {
		if sst.Trip.ID == "t2" {
			found = true
			assert.Equal(t, "20240108", sst.ServiceDate.String())
		}
	}
	assert.True(t, found, "expected t2 to be returned for the overnight window")
}

func TestGetScheduledForNoMatch(t *testing.T) {
	db := newTestDatabase(t)

	// Saturday: weekday service t1/t2 do not run at stopB.
	start := time.Date(2024, 1, 13, 7, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC)

	got, err := db.GetScheduledFor("stopB", start, end)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetScheduledForRejectsInvertedWindow(t *testing.T) {
	db := newTestDatabase(t)

	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 8, 7, 0, 0, 0, time.UTC)

	got, err := db.GetScheduledFor("stopA", start, end)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestParseArrivalOffset(t *testing.T) {
	d, delta, ok := parseArrivalOffset("08:05:00")
	require.True(t, ok)
	assert.Equal(t, 0, delta)
	assert.Equal(t, 8*time.Hour+5*time.Minute, d)

	d, delta, ok = parseArrivalOffset("25:10:00")
	require.True(t, ok)
	assert.Equal(t, 1, delta)
	assert.Equal(t, 1*time.Hour+10*time.Minute, d)

	_, _, ok = parseArrivalOffset("garbage")
	assert.False(t, ok)
}

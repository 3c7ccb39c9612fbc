package transit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/seanrees/gtfs-upcoming/loader"
	"github.com/seanrees/gtfs-upcoming/schedule"
)

const (
	fixtureStopTimes = `trip_id,arrival_time,departure_time,stop_id,stop_sequence
t1,08:00:00,08:00:00,stopA,1
t1,08:10:00,08:10:00,stopB,2
t2,08:05:00,08:05:00,stopA,1
`
	fixtureTrips = `trip_id,route_id,service_id,trip_headsign,direction_id
t1,r1,weekday,Downtown,0
t2,r1,weekday,Downtown,0
`
	fixtureRoutes = `route_id,route_short_name,route_long_name,route_type
r1,1,Main Line,3
`
	fixtureCalendar = `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
weekday,1,1,1,1,1,0,0,20240101,20241231
`
	fixtureCalendarDates = `service_id,date,exception_type
`
)

// fixedClock pins Now() for deterministic tests.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stubFetcher returns a canned response, or an error, from Fetch.
type stubFetcher struct {
	body []byte
	err  error
}

func (f stubFetcher) Fetch() ([]byte, error) { return f.body, f.err }

func newTestDatabase(t *testing.T) *schedule.Database {
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
	db := schedule.New(dir, nil, loader.New(loader.Config{}), nil)
	require.NoError(t, db.Load())
	return db
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC)
	e := New(nil, nil, fixedClock{now}, nil)

	got, err := e.parseTime("08:05:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 8, 5, 30, 0, time.UTC), got)

	got, err = e.parseTime("25:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 9, 1, 0, 0, 0, time.UTC), got)
}

func TestDeltaSeconds(t *testing.T) {
	a := time.Date(2024, 1, 8, 8, 0, 10, 0, time.UTC)
	b := time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 10.0, deltaSeconds(a, b))
}

func TestGetScheduled(t *testing.T) {
	db := newTestDatabase(t)
	now := time.Date(2024, 1, 8, 7, 50, 0, 0, time.UTC) // Monday
	e := New(db, stubFetcher{}, fixedClock{now}, nil)

	got, err := e.GetScheduled([]string{"stopA"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Sorted ascending by due_in_seconds: t1 at 08:00 before t2 at 08:05.
	assert.Equal(t, "t1", got[0].TripID)
	assert.Equal(t, "t2", got[1].TripID)
	assert.Equal(t, "SCHEDULE", got[0].Source)
	assert.False(t, got[0].Canceled)
}

func feedWithOneScheduledUpdate(tripID string, delaySeconds int32) []byte {
	sr := gtfsproto.TripDescriptor_SCHEDULED
	seq := uint32(1)
	delay := delaySeconds
	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: []*gtfsproto.FeedEntity{
			{
				Id: proto.String("e1"),
				TripUpdate: &gtfsproto.TripUpdate{
					Trip: &gtfsproto.TripDescriptor{
						TripId:               proto.String(tripID),
						ScheduleRelationship: &sr,
					},
					StopTimeUpdate: []*gtfsproto.TripUpdate_StopTimeUpdate{
						{
							StopSequence: &seq,
							StopId:       proto.String("stopA"),
							Arrival: &gtfsproto.TripUpdate_StopTimeEvent{
								Delay: &delay,
							},
						},
					},
				},
			},
		},
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return b
}

func TestGetLiveDelayed(t *testing.T) {
	db := newTestDatabase(t)
	now := time.Date(2024, 1, 8, 7, 50, 0, 0, time.UTC)
	feed := stubFetcher{body: feedWithOneScheduledUpdate("t1", 120)}
	e := New(db, feed, fixedClock{now}, nil)

	got, err := e.GetLive([]string{"stopA"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TripID)
	assert.Equal(t, "LIVE", got[0].Source)
	assert.False(t, got[0].Canceled)
	// Scheduled at 08:00, +120s delay => due 08:02, now=07:50 => 720s.
	assert.InDelta(t, 720, got[0].DueInSeconds, 1)
}

func TestGetLivePassedStopSuppressed(t *testing.T) {
	db := newTestDatabase(t)
	// now is after the (delayed) arrival, so the entry should be dropped.
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	feed := stubFetcher{body: feedWithOneScheduledUpdate("t1", 0)}
	e := New(db, feed, fixedClock{now}, nil)

	got, err := e.GetLive([]string{"stopA"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func feedWithCanceled(tripID string) []byte {
	sr := gtfsproto.TripDescriptor_CANCELED
	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsproto.FeedEntity{
			{
				Id: proto.String("e2"),
				TripUpdate: &gtfsproto.TripUpdate{
					Trip: &gtfsproto.TripDescriptor{
						TripId:               proto.String(tripID),
						ScheduleRelationship: &sr,
					},
				},
			},
		},
	}
	b, _ := proto.Marshal(msg)
	return b
}

func TestGetUpcomingMergesAndFiltersCanceled(t *testing.T) {
	db := newTestDatabase(t)
	now := time.Date(2024, 1, 8, 7, 50, 0, 0, time.UTC)
	feed := stubFetcher{body: feedWithCanceled("t1")}
	e := New(db, feed, fixedClock{now}, nil)

	got, err := e.GetUpcoming([]string{"stopA"})
	require.NoError(t, err)

	// t1 was canceled live, so it must not appear; t2 remains from the
	// scheduled leftovers.
	for _, u := range got {
		assert.NotEqual(t, "t1", u.TripID)
	}
	found := false
	for _, u := range got {
		if u.TripID == "t2" {
			found = true
		}
	}
	assert.True(t, found)
}

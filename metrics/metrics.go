// Package metrics declares the Prometheus collectors exported by every
// other package, mirroring the metric names and label shapes of the
// original implementation so existing dashboards and alerts carry over
// unchanged.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScheduleTripsLoaded records the number of trips loaded into the
	// schedule database on each Load.
	ScheduleTripsLoaded = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_tripdb_loaded_trips",
		Help: "Trips loaded in the database",
	})

	// ScheduleTripRequests counts GetTrip lookups, labeled by whether the
	// trip was found.
	ScheduleTripRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtfs_tripdb_requests_total",
		Help: "Requests to the Trip DB",
	}, []string{"found"})

	// ScheduleLoadSeconds times a full Database.Load.
	ScheduleLoadSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_database_load_seconds",
		Help: "Time to load the database",
	})

	// ScheduleResponseSize records the number of trips returned by
	// GetScheduledFor.
	ScheduleResponseSize = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_schedule_returned_trips",
		Help: "Response sizes for GetScheduledFor()",
	})
)

var (
	// MatchedTrips records the SCHEDULED live trips seen by each GetLive
	// call, labeled by state ("early", "ontime", "delayed").
	MatchedTrips = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "gtfs_interesting_trips",
		Help: "Trips returned matching configured interesting stops",
	}, []string{"state"})

	// EntitiesReturned records the number of FeedEntity values in the
	// feed fetched by a single GetLive call.
	EntitiesReturned = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_returned_entities",
		Help: "Entities returned from API",
	})

	// EntitiesIgnored records entities skipped in GetLive, labeled by
	// reason.
	EntitiesIgnored = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "gtfs_ignored_entities",
		Help: "Entities ignored in API, because they were not TripUpdates or not Scheduled",
	}, []string{"reason"})

	// ScheduledReturned records the number of scheduled trips returned
	// from GetScheduled.
	ScheduledReturned = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_transit_scheduled_trips_returned",
		Help: "Number of scheduled trips returned",
	})

	// ScheduledAndLive records the number of scheduled trips that were
	// also matched against the live feed in GetUpcoming.
	ScheduledAndLive = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_transit_scheduled_trips_matching_live",
		Help: "Number of scheduled trips returned that are also in the live feed",
	})

	// UpcomingSeconds times GetUpcoming.
	UpcomingSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_transit_getupcoming_run_seconds",
		Help: "Time to run GetUpcoming",
	})

	// ScheduledSeconds times GetScheduled.
	ScheduledSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_transit_getscheduled_run_seconds",
		Help: "Time to run GetScheduled",
	})

	// LiveSeconds times GetLive.
	LiveSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_transit_getlive_run_seconds",
		Help: "Time to run GetLive",
	})
)

var (
	// HTTPRequestCount counts requests to the internal webserver, labeled
	// by path.
	HTTPRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtfs_http_requests_total",
		Help: "Requests to the internal webserver",
	}, []string{"path"})

	// HTTPResponseStatus counts response codes from the internal
	// webserver.
	HTTPResponseStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtfs_http_response_status_codes",
		Help: "HTTP response codes from the internal webserver",
	}, []string{"code"})

	// HTTPUnknownPathCount counts requests to unregistered paths.
	HTTPUnknownPathCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_http_unknown_paths_total",
		Help: "Requests to unknown paths in the internal webserver",
	})
)

var (
	// FetchLatencySeconds times upstream feed requests.
	FetchLatencySeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_request_latency_seconds",
		Help: "Request latency to GTFS API service",
	})

	// FetchResponseBytes records the size of each feed response.
	FetchResponseBytes = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "gtfs_response_bytes",
		Help: "Response bytes from GTFS API service",
	})

	// FetchResponseStatus counts response codes from the upstream feed.
	FetchResponseStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtfs_response_status_codes",
		Help: "HTTP response codes from GTFS API service",
	}, []string{"code"})

	// FetchRequests counts requests made to the upstream feed.
	FetchRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_requests_total",
		Help: "Requests to GTFS API service",
	})
)

// Package model holds the data types shared across the schedule database,
// the realtime transit engine, and the HTTP surface.
package model

// RouteType is the GTFS route_type enumeration (routes.txt, route_type
// column). Values follow the canonical GTFS codes, including the gap
// between 7 and 11.
type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

// routeTypeNames mirrors the original database's ROUTE_TYPES table.
var routeTypeNames = map[RouteType]string{
	RouteTypeTram:       "TRAM",
	RouteTypeSubway:     "SUBWAY",
	RouteTypeRail:       "RAIL",
	RouteTypeBus:        "BUS",
	RouteTypeFerry:      "FERRY",
	RouteTypeCableTram:  "CABLE_TRAM",
	RouteTypeAerialLift: "AERIAL_LIFT",
	RouteTypeFunicular:  "FUNICULAR",
	RouteTypeTrolleybus: "TROLLEYBUS",
	RouteTypeMonorail:   "MONORAIL",
}

var routeTypeCodes = map[string]RouteType{
	"0":  RouteTypeTram,
	"1":  RouteTypeSubway,
	"2":  RouteTypeRail,
	"3":  RouteTypeBus,
	"4":  RouteTypeFerry,
	"5":  RouteTypeCableTram,
	"6":  RouteTypeAerialLift,
	"7":  RouteTypeFunicular,
	"11": RouteTypeTrolleybus,
	"12": RouteTypeMonorail,
}

// String renders the enumerated name used in Upcoming.RouteType, e.g. "BUS".
func (rt RouteType) String() string {
	if name, ok := routeTypeNames[rt]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRouteType parses the route_type column's raw GTFS code ("0".."7",
// "11", "12").
func ParseRouteType(code string) (RouteType, bool) {
	rt, ok := routeTypeCodes[code]
	return rt, ok
}

// CalendarDays orders weekdays monday=0..sunday=6, matching calendar.txt's
// column order and Calendar.Weekday indexing.
var CalendarDays = [7]string{
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
	"sunday",
}

// Calendar exception types (calendar_dates.txt, exception_type column).
const (
	ExceptionServiceAdded   = "1"
	ExceptionServiceRemoved = "2"
)

// CalendarNotAvailable is the value of a Calendar weekday field when the
// service does not normally run that day.
const CalendarNotAvailable = "0"

// Route is a GTFS route, enriched with fields inferred from the first trip
// observed using it. The inferred fields exist solely to synthesize a Trip
// for a realtime-only ADDED trip that references this route.
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      RouteType

	InferredHeadsign    string
	InferredDirectionID string
	InferredServiceID   string
}

// StopTime is one call at a stop within a trip.
type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
}

// Trip is a single scheduled run of a vehicle along a route.
type Trip struct {
	ID          string
	Headsign    string
	DirectionID string
	ServiceID   string
	Route       *Route
	StopTimes   []StopTime
}

// Calendar is the weekly service pattern and validity window for a
// service_id.
type Calendar struct {
	ServiceID string
	Weekday   [7]string // "0" or "1", indexed like CalendarDays
	StartDate Date
	EndDate   Date
}

// CalendarException maps dates to an override of the weekly pattern for a
// single service_id.
type CalendarException map[Date]string

// Upcoming is the externally visible arrival record.
type Upcoming struct {
	TripID          string  `json:"trip_id"`
	Route           string  `json:"route"`
	RouteType       string  `json:"route_type"`
	Headsign        string  `json:"headsign"`
	Direction       string  `json:"direction"`
	StopID          string  `json:"stop_id"`
	DueTime         string  `json:"due_time"`
	DueInSeconds    float64 `json:"due_in_seconds"`
	Source          string  `json:"source"`
	Canceled        bool    `json:"canceled"`
	AddedToSchedule bool    `json:"added_to_schedule"`
}

const (
	SourceSchedule = "SCHEDULE"
	SourceLive     = "LIVE"
)

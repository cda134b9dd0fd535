package domain

import (
	"fmt"
	"time"
)

// PointKind tags what a route stop is.
type PointKind string

const (
	PointHub      PointKind = "hub"
	PointLocation PointKind = "location"
	PointPickup   PointKind = "pickup"
	PointDelivery PointKind = "delivery"
	PointBreak    PointKind = "break"
)

func ParsePointKind(s string) (PointKind, error) {
	switch PointKind(s) {
	case PointHub, PointLocation, PointPickup, PointDelivery, PointBreak:
		return PointKind(s), nil
	}
	return "", fmt.Errorf("unknown point kind %q", s)
}

// ModelClass tags the source object a point rehydrates from.
type ModelClass string

const (
	ModelOrder               ModelClass = "Order"
	ModelHub                 ModelClass = "Hub"
	ModelDriverRouteLocation ModelClass = "DriverRouteLocation"
)

func ParseModelClass(s string) (ModelClass, error) {
	switch ModelClass(s) {
	case ModelOrder, ModelHub, ModelDriverRouteLocation:
		return ModelClass(s), nil
	}
	return "", fmt.Errorf("unknown model class %q", s)
}

// Point is one stop on a finished route. Points are created once by the
// result-parsing walk over a solved model and are immutable afterwards,
// except that post-processing may fill in Polyline.
type Point struct {
	Kind             PointKind  `json:"point_kind"`
	ModelClass       ModelClass `json:"model_class"`
	SourceID         int64      `json:"source_id"`
	Location         LatLng     `json:"location"`
	ServiceTime      int        `json:"service_time"` // seconds
	DrivingTime      int        `json:"driving_time"` // seconds from previous
	Distance         int        `json:"distance"`     // meters from previous
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	UtilizedCapacity int        `json:"utilized_capacity"`
	Polyline         string     `json:"polyline,omitempty"`

	// Prev links stops within one tour; not serialized.
	Prev *Point `json:"-"`
}

// DriverTour is the ordered stop list for one driver.
type DriverTour struct {
	Points          []*Point `json:"points"`
	DrivingTime     int      `json:"driving_time"`     // seconds
	FullTime        int      `json:"full_time"`        // seconds, includes service and waits
	DrivingDistance int      `json:"driving_distance"` // meters

	// Balance metrics relative to the shortest and average tours of the
	// assignment; computed at result construction.
	RatioToMin float64 `json:"ratio_to_min"`
	RatioToAvg float64 `json:"ratio_to_avg"`
}

// StopCount counts serviceable stops, excluding anchors and breaks.
func (t *DriverTour) StopCount() int {
	n := 0
	for _, p := range t.Points {
		if p.Kind == PointPickup || p.Kind == PointDelivery {
			n++
		}
	}
	return n
}

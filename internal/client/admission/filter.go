// internal/client/admission/filter.go
package admission

import (
	"context"
	"math"

	"notifcast/internal/client/geo"
	"notifcast/internal/model"
)

const earthRadiusKm = 6371.0

// PlaceSource lists locations the user has marked as favourite places. A
// message inside the radius of any of them is relevant even when the device
// itself is elsewhere.
type PlaceSource interface {
	Places(ctx context.Context) []geo.Coordinate
}

// NoPlaces is the default PlaceSource until a fencing policy for saved
// places is defined.
type NoPlaces struct{}

func (NoPlaces) Places(context.Context) []geo.Coordinate { return nil }

// Filter decides whether a received message is currently relevant. It is
// pure: persisting an accepted message is the caller's job.
type Filter struct {
	location geo.Provider
	places   PlaceSource
}

func NewFilter(location geo.Provider, places PlaceSource) *Filter {
	if places == nil {
		places = NoPlaces{}
	}
	return &Filter{location: location, places: places}
}

// ShouldAdmit admits every message without a location constraint. A
// constrained message is admitted when the current position, or any
// favourite place, lies within the constraint radius. With the position
// unknown and no matching place, the message is dropped.
func (f *Filter) ShouldAdmit(ctx context.Context, m *model.Message) bool {
	if m.Location == nil {
		return true
	}
	return f.currentPositionInside(ctx, m.Location) || f.placeInside(ctx, m.Location)
}

func (f *Filter) currentPositionInside(ctx context.Context, loc *model.LocationData) bool {
	pos, ok := f.location.CurrentLocation(ctx)
	if !ok {
		return false
	}
	return distanceKm(pos, geo.Coordinate{Lat: loc.Lat, Lng: loc.Lng}) <= loc.Radius
}

func (f *Filter) placeInside(ctx context.Context, loc *model.LocationData) bool {
	center := geo.Coordinate{Lat: loc.Lat, Lng: loc.Lng}
	for _, place := range f.places.Places(ctx) {
		if distanceKm(place, center) <= loc.Radius {
			return true
		}
	}
	return false
}

// distanceKm is the great-circle distance in kilometers (haversine).
// Radii reach tens of kilometers, so a flat approximation is not enough.
func distanceKm(a, b geo.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

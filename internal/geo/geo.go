// Package geo computes great-circle distances on a spherical earth.
package geo

import (
	"math"

	"ms-flashpromo/internal/apperr"
)

const EarthRadiusKm = 6371.0

// boxMarginDeg widens bounding boxes slightly so points exactly on the radius survive the pre-filter.
const boxMarginDeg = 1e-9

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewLocation(lat, lng float64) (Location, error) {
	l := Location{Latitude: lat, Longitude: lng}
	if err := l.Validate(); err != nil {
		return Location{}, err
	}
	return l, nil
}

func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return apperr.Validation("latitude must be between -90 and 90, got %v", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return apperr.Validation("longitude must be between -180 and 180, got %v", l.Longitude)
	}
	return nil
}

// DistanceKm returns the haversine distance between l and other.
func (l Location) DistanceKm(other Location) float64 {
	lat1 := toRad(l.Latitude)
	lat2 := toRad(other.Latitude)
	dLat := lat2 - lat1
	dLng := toRad(other.Longitude - l.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// WithinKm reports whether other lies inside the closed disc of radiusKm around l.
func (l Location) WithinKm(other Location, radiusKm float64) bool {
	return l.DistanceKm(other) <= radiusKm
}

// Box is a latitude/longitude rectangle used as a cheap pre-filter.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle containing every point within radiusKm of l.
// Near the poles or across the antimeridian the longitude range is left open.
func (l Location) BoundingBox(radiusKm float64) Box {
	angular := radiusKm / EarthRadiusKm
	latDelta := toDeg(angular)

	box := Box{
		MinLat: l.Latitude - latDelta - boxMarginDeg,
		MaxLat: l.Latitude + latDelta + boxMarginDeg,
		MinLng: -180,
		MaxLng: 180,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		return box
	}

	ratio := math.Sin(angular) / math.Cos(toRad(l.Latitude))
	if ratio >= 1 {
		return box
	}
	lngDelta := toDeg(math.Asin(ratio))
	minLng := l.Longitude - lngDelta - boxMarginDeg
	maxLng := l.Longitude + lngDelta + boxMarginDeg
	if minLng < -180 || maxLng > 180 {
		return box
	}
	box.MinLng = minLng
	box.MaxLng = maxLng
	return box
}

func (b Box) Contains(p Location) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLng && p.Longitude <= b.MaxLng
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

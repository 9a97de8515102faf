// internal/services/geofence_service.go
package services

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Location is a GPS fix as reported by consumer hardware. Accuracy is the
// receiver's claimed uncertainty radius in meters.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy_meters"`
}

// PresenceResult is returned when the observed fix falls inside the
// tolerance window around the anchor.
type PresenceResult struct {
	DistanceMeters float64 `json:"distance_meters"`
	AllowedMeters  float64 `json:"allowed_meters"`
}

// GeofenceValidator decides physical co-presence from two coordinates. It is
// pure: no state, deterministic for identical inputs.
type GeofenceValidator struct {
	radiusMeters float64
}

func NewGeofenceValidator(radiusMeters float64) *GeofenceValidator {
	return &GeofenceValidator{radiusMeters: radiusMeters}
}

// Validate accepts the observed fix iff its great-circle distance from the
// anchor is at most radius + observed accuracy. The accuracy term absorbs
// GPS noise: a wider claimed uncertainty widens the window instead of
// rejecting low-confidence readings outright. The boundary is inclusive.
func (v *GeofenceValidator) Validate(anchor, observed Location) (*PresenceResult, error) {
	if err := ValidateCoordinates(anchor.Latitude, anchor.Longitude); err != nil {
		return nil, err
	}
	if err := ValidateCoordinates(observed.Latitude, observed.Longitude); err != nil {
		return nil, err
	}

	distance := haversineMeters(anchor.Latitude, anchor.Longitude, observed.Latitude, observed.Longitude)
	allowed := v.radiusMeters + observed.Accuracy

	if distance > allowed {
		return nil, &GeofenceError{DistanceMeters: distance, AllowedMeters: allowed}
	}

	return &PresenceResult{DistanceMeters: distance, AllowedMeters: allowed}, nil
}

func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %.6f", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %.6f", ErrInvalidCoordinate, lon)
	}
	return nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

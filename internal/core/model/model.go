// Package model defines core domain types shared across the service.
package model

import "fmt"

// Point is a geographic coordinate (WGS 84).
type Point struct {
	Lat float64
	Lon float64
}

// Rect is the bounding rectangle a spatial key decodes to.
type Rect struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

func (r Rect) Contains(lat, lon float64) bool {
	return lat >= r.LatMin && lat <= r.LatMax && lon >= r.LonMin && lon <= r.LonMax
}

// Center returns the rectangle midpoint, the representative point of the cell.
func (r Rect) Center() Point {
	return Point{
		Lat: (r.LatMin + r.LatMax) / 2,
		Lon: (r.LonMin + r.LonMax) / 2,
	}
}

// Width and Height are the cell extents in degrees.
func (r Rect) Width() float64  { return r.LonMax - r.LonMin }
func (r Rect) Height() float64 { return r.LatMax - r.LatMin }

func (r Rect) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", r.LatMin, r.LonMin, r.LatMax, r.LonMax)
}

// Location is the caller-supplied coordinate pair. Pointers so that absent
// fields are distinguishable from zero values during validation.
type Location struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// DispatchRequest is the inbound body of POST /dispatch. A precomputed geohash
// is authoritative when supplied; otherwise userLocation must carry both
// coordinates.
type DispatchRequest struct {
	Service             string    `json:"service" validate:"required"`
	UserLocation        *Location `json:"userLocation" validate:"required_without=Geohash"`
	Geohash             string    `json:"geohash,omitempty"`
	RequestID           string    `json:"requestId,omitempty"`
	UserName            string    `json:"userName,omitempty"`
	LocationDescription string    `json:"locationDescription,omitempty"`
}

// Outcome categories of a dispatch request. Responses always name one.
const (
	StatusSuccess     = "success"
	StatusNoProviders = "no_providers"
)

type DispatchResponse struct {
	Status   string `json:"status"`
	Notified int    `json:"notified"`
	Message  string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

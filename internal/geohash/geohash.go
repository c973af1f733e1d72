// Package geohash encodes coordinates into base-32 spatial keys and back.
//
// A key of length p identifies the rectangular cell obtained by p*5
// alternating longitude/latitude bisections, longitude first. Shared prefixes
// imply spatial proximity, which is what makes equality/membership filters on
// stored keys usable as a range-free proximity query.
package geohash

import (
	"fmt"
	"strings"

	"github.com/nearbyops/geodispatch/internal/core/model"
)

// Base-32 alphabet: digits and lowercase letters excluding a, i, l, o.
const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

const (
	MinPrecision = 1
	MaxPrecision = 12
)

// Encode returns the spatial key of (lat, lon) at the given precision.
// Out-of-range coordinates are rejected rather than silently biased to the
// max bound of the last halving.
func Encode(lat, lon float64, precision int) (string, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return "", fmt.Errorf("invalid precision %d (must be %d..%d)", precision, MinPrecision, MaxPrecision)
	}
	if lat < -90 || lat > 90 {
		return "", fmt.Errorf("latitude %g out of range [-90,90]", lat)
	}
	if lon < -180 || lon > 180 {
		return "", fmt.Errorf("longitude %g out of range [-180,180]", lon)
	}

	var (
		latMin, latMax = -90.0, 90.0
		lonMin, lonMax = -180.0, 180.0
		buf            = make([]byte, 0, precision)
		idx, bit       int
		evenBit        = true // longitude on the first bit
	)
	for len(buf) < precision {
		if evenBit {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				idx = idx<<1 | 1
				lonMin = mid
			} else {
				idx <<= 1
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				idx = idx<<1 | 1
				latMin = mid
			} else {
				idx <<= 1
				latMax = mid
			}
		}
		evenBit = !evenBit
		bit++
		if bit == 5 {
			buf = append(buf, alphabet[idx])
			bit, idx = 0, 0
		}
	}
	return string(buf), nil
}

// Decode replays the bisections of key and returns the cell rectangle plus
// its midpoint. No stored state is consulted; the key alone is sufficient.
func Decode(key string) (model.Rect, model.Point, error) {
	if key == "" {
		return model.Rect{}, model.Point{}, fmt.Errorf("empty spatial key")
	}
	if len(key) > MaxPrecision {
		return model.Rect{}, model.Point{}, fmt.Errorf("spatial key %q longer than %d symbols", key, MaxPrecision)
	}

	r := model.Rect{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}
	evenBit := true
	for i := 0; i < len(key); i++ {
		idx := strings.IndexByte(alphabet, key[i])
		if idx < 0 {
			return model.Rect{}, model.Point{}, fmt.Errorf("invalid symbol %q in spatial key %q", key[i], key)
		}
		for mask := 0x10; mask > 0; mask >>= 1 {
			if evenBit {
				mid := (r.LonMin + r.LonMax) / 2
				if idx&mask != 0 {
					r.LonMin = mid
				} else {
					r.LonMax = mid
				}
			} else {
				mid := (r.LatMin + r.LatMax) / 2
				if idx&mask != 0 {
					r.LatMin = mid
				} else {
					r.LatMax = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return r, r.Center(), nil
}

// Valid reports whether key is a well-formed spatial key.
func Valid(key string) bool {
	if key == "" || len(key) > MaxPrecision {
		return false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(alphabet, key[i]) < 0 {
			return false
		}
	}
	return true
}

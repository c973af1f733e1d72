// Package neighbors expands a center spatial key into the keys covering its
// 3x3 cell neighborhood, widening a proximity search beyond exact-key
// equality.
package neighbors

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nearbyops/geodispatch/internal/geohash"
)

const defaultCacheSize = 1024

type Expander struct {
	minPrecision int
	memo         *lru.Cache[string, []string]
}

// New builds an expander. Keys shorter than minPrecision are passed through
// unexpanded. Expansion is pure, so results are memoized in an LRU of
// cacheSize entries.
func New(minPrecision, cacheSize int) (*Expander, error) {
	if minPrecision < geohash.MinPrecision {
		minPrecision = geohash.MinPrecision
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	memo, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Expander{minPrecision: minPrecision, memo: memo}, nil
}

// Expand returns the sorted, deduplicated keys of the center cell and its up
// to 8 geometric neighbors at the same precision. The center key is always
// present. Degenerate input (empty, too short, malformed) short-circuits to a
// single-element set containing the input unchanged.
func (e *Expander) Expand(centerKey string) []string {
	if len(centerKey) < e.minPrecision || !geohash.Valid(centerKey) {
		return []string{centerKey}
	}
	if cached, ok := e.memo.Get(centerKey); ok {
		// callers own their slice; the memoized one must stay intact
		return append([]string(nil), cached...)
	}

	rect, center, err := geohash.Decode(centerKey)
	if err != nil {
		return []string{centerKey}
	}

	// Step size derives from the decoded cell's own extents so each offset
	// lands in an adjacent cell at any latitude and precision.
	stepLat := rect.Height()
	stepLon := rect.Width()

	seen := map[string]struct{}{centerKey: {}}
	out := []string{centerKey}
	for _, dLat := range []float64{-1, 0, 1} {
		for _, dLon := range []float64{-1, 0, 1} {
			if dLat == 0 && dLon == 0 {
				continue
			}
			lat := center.Lat + dLat*stepLat
			if lat < -90 || lat > 90 {
				// no cell beyond the poles
				continue
			}
			lon := center.Lon + dLon*stepLon
			if lon > 180 {
				lon -= 360
			} else if lon < -180 {
				lon += 360
			}
			key, err := geohash.Encode(lat, lon, len(centerKey))
			if err != nil {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	sort.Strings(out)

	e.memo.Add(centerKey, out)
	return append([]string(nil), out...)
}

// Package store builds and executes structured queries against the provider
// registry's document store. The store supports only equality, array
// membership and bounded set membership, so proximity is expressed as an IN
// filter over precomputed spatial keys.
package store

// Predicate operators understood by the store.
type Operator string

const (
	OpEqual         Operator = "EQUAL"
	OpArrayContains Operator = "ARRAY_CONTAINS"
	OpIn            Operator = "IN"
)

// DefaultInLimit is the store's hard cardinality limit on IN predicates.
// Sending more members is a hard failure upstream, not a partial match.
const DefaultInLimit = 10

type Predicate struct {
	Field string
	Op    Operator
	Value any
}

// Query is an immutable conjunction of predicates over one collection.
type Query struct {
	Collection string
	Predicates []Predicate
}

// Contract names the registry fields this deployment matches on. Field naming
// is owned by the external registry, so it is configuration, not constants.
type Contract struct {
	Collection        string
	AvailabilityField string
	ServicesField     string
	SpatialField      string
	RecipientField    string
	InLimit           int
}

func (c Contract) WithDefaults() Contract {
	if c.Collection == "" {
		c.Collection = "providers"
	}
	if c.AvailabilityField == "" {
		c.AvailabilityField = "isAvailable"
	}
	if c.ServicesField == "" {
		c.ServicesField = "services"
	}
	if c.SpatialField == "" {
		c.SpatialField = "geohash"
	}
	if c.RecipientField == "" {
		c.RecipientField = "oneSignalPlayerId"
	}
	if c.InLimit <= 0 {
		c.InLimit = DefaultInLimit
	}
	return c
}

// BuildQuery conjoins the availability, service and spatial filters. Keys are
// truncated to the IN limit before the predicate is built. Predicate order is
// deterministic: equality first, then array containment, then set membership.
func BuildQuery(c Contract, keys []string, serviceType string) Query {
	c = c.WithDefaults()

	if len(keys) > c.InLimit {
		keys = keys[:c.InLimit]
	}
	inKeys := make([]string, len(keys))
	copy(inKeys, keys)

	return Query{
		Collection: c.Collection,
		Predicates: []Predicate{
			{Field: c.AvailabilityField, Op: OpEqual, Value: true},
			{Field: c.ServicesField, Op: OpArrayContains, Value: serviceType},
			{Field: c.SpatialField, Op: OpIn, Value: inKeys},
		},
	}
}

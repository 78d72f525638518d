// ABOUTME: Query aggregate combining the three schedule filters
// ABOUTME: Convenience constructors for the common filter combinations

package schedule

import "time"

// Query selects a subset of scheduled itineraries by space, time, schedule
// version and participant identity. The zero value selects everything.
//
// A Query is a plain value with no internal locking: build it on one
// goroutine and treat it as read-only while the database evaluates it.
type Query struct {
	spacetime    Spacetime
	versions     Versions
	participants Participants
}

// Spacetime returns the spacetime component of this query for inspection or
// mutation.
func (q *Query) Spacetime() *Spacetime {
	return &q.spacetime
}

// Versions returns the version component of this query for inspection or
// mutation.
func (q *Query) Versions() *Versions {
	return &q.versions
}

// Participants returns the participant component of this query for
// inspection or mutation.
func (q *Query) Participants() *Participants {
	return &q.participants
}

// SetParticipants replaces the participant filter. Use the
// NewParticipants... constructors to build the replacement.
func (q *Query) SetParticipants(p Participants) {
	q.participants = p
}

// QueryEverything returns a query that selects all itineraries in the
// schedule.
func QueryEverything() Query {
	return Query{}
}

// QueryAfter returns a query for everything introduced strictly after the
// given schedule version.
func QueryAfter(after Version) Query {
	var q Query
	q.versions.QueryAfter(after)
	return q
}

// QueryRegions returns a query for everything that intersects the given
// spacetime regions.
func QueryRegions(regions []Region) Query {
	var q Query
	q.spacetime.QueryRegions(regions)
	return q
}

// QueryTimespan returns a query for everything active on the given maps
// within the given time window. A nil bound means no constraint on that
// side.
func QueryTimespan(maps []string, lower, upper *time.Time) Query {
	var q Query
	q.spacetime.QueryTimespan(maps, lower, upper)
	return q
}

// QueryAfterInRegions returns a query for everything introduced strictly
// after the given schedule version that intersects the given regions.
func QueryAfterInRegions(after Version, regions []Region) Query {
	var q Query
	q.versions.QueryAfter(after)
	q.spacetime.QueryRegions(regions)
	return q
}

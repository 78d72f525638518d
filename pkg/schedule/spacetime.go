// ABOUTME: Spacetime filter for schedule queries
// ABOUTME: Mode-variant over All, Regions and Timespan constraints

package schedule

import (
	"sort"
	"time"
)

// SpacetimeMode determines which spacetime constraint a query is in.
type SpacetimeMode uint16

const (
	// SpacetimeAll requests trajectories throughout all of space and time.
	SpacetimeAll SpacetimeMode = iota

	// SpacetimeRegions requests trajectories intersecting specific regions.
	SpacetimeRegions

	// SpacetimeTimespan requests trajectories active in a timespan on a set
	// of maps.
	SpacetimeTimespan
)

// String returns a human-readable mode name.
func (m SpacetimeMode) String() string {
	switch m {
	case SpacetimeAll:
		return "all"
	case SpacetimeRegions:
		return "regions"
	case SpacetimeTimespan:
		return "timespan"
	}
	return "invalid"
}

// Spacetime is the spatial/temporal component of a Query. Exactly one mode
// is active at a time; switching modes discards the state of the previously
// active mode, and the accessor for an inactive mode returns nil. The zero
// value is in All mode.
type Spacetime struct {
	mode     SpacetimeMode
	regions  *Regions
	timespan *Timespan
}

// Mode reports the currently active mode.
func (s *Spacetime) Mode() SpacetimeMode {
	return s.mode
}

// QueryAll switches this Spacetime to All mode, discarding any Regions or
// Timespan state.
func (s *Spacetime) QueryAll() {
	s.mode = SpacetimeAll
	s.regions = nil
	s.timespan = nil
}

// QueryRegions switches this Spacetime to Regions mode, seeded with the
// given regions (which may be nil), and returns the active Regions container
// for further mutation.
func (s *Spacetime) QueryRegions(regions []Region) *Regions {
	s.mode = SpacetimeRegions
	s.timespan = nil
	s.regions = &Regions{elems: append([]Region(nil), regions...)}
	return s.regions
}

// Regions returns the active Regions container, or nil if this Spacetime is
// not in Regions mode.
func (s *Spacetime) Regions() *Regions {
	if s.mode != SpacetimeRegions {
		return nil
	}
	return s.regions
}

// QueryTimespan switches this Spacetime to Timespan mode for the given maps.
// A nil lower or upper bound means no constraint on that side. The active
// Timespan is returned for further mutation.
func (s *Spacetime) QueryTimespan(maps []string, lower, upper *time.Time) *Timespan {
	s.mode = SpacetimeTimespan
	s.regions = nil

	ts := &Timespan{maps: make(map[string]struct{}, len(maps))}
	for _, m := range maps {
		ts.maps[m] = struct{}{}
	}
	if lower != nil {
		ts.SetLowerTimeBound(*lower)
	}
	if upper != nil {
		ts.SetUpperTimeBound(*upper)
	}
	s.timespan = ts
	return ts
}

// Timespan returns the active Timespan, or nil if this Spacetime is not in
// Timespan mode.
func (s *Spacetime) Timespan() *Timespan {
	if s.mode != SpacetimeTimespan {
		return nil
	}
	return s.timespan
}

// Regions is an ordered container of query regions. Indices follow ordinary
// sequence semantics: erasing returns the index immediately following the
// removed elements so traversal can continue.
type Regions struct {
	elems []Region
}

// PushBack appends a region to the container.
func (r *Regions) PushBack(region Region) {
	r.elems = append(r.elems, region)
}

// PopBack removes the last region that was added. Popping an empty
// container is a no-op.
func (r *Regions) PopBack() {
	if len(r.elems) == 0 {
		return
	}
	r.elems = r.elems[:len(r.elems)-1]
}

// Erase removes the region at index i and returns the index that now holds
// the element which followed it.
func (r *Regions) Erase(i int) int {
	r.elems = append(r.elems[:i], r.elems[i+1:]...)
	return i
}

// EraseRange removes the regions in [first, last) and returns the index that
// now holds the element which followed the removed range.
func (r *Regions) EraseRange(first, last int) int {
	r.elems = append(r.elems[:first], r.elems[last:]...)
	return first
}

// Size reports the number of regions in the container.
func (r *Regions) Size() int {
	return len(r.elems)
}

// At returns a pointer to the region at index i, valid until the container
// is next mutated.
func (r *Regions) At(i int) *Region {
	return &r.elems[i]
}

// Slice returns a copy of the regions in order.
func (r *Regions) Slice() []Region {
	return append([]Region(nil), r.elems...)
}

// Timespan constrains a query to a set of maps and an optional time window.
// Either bound may be entirely absent, meaning no constraint on that side.
type Timespan struct {
	maps  map[string]struct{}
	lower *time.Time
	upper *time.Time
}

// Maps returns the map names that will be queried, sorted for determinism.
func (t *Timespan) Maps() []string {
	out := make([]string, 0, len(t.maps))
	for m := range t.maps {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// HasMap reports whether the named map is part of the query.
func (t *Timespan) HasMap(name string) bool {
	_, ok := t.maps[name]
	return ok
}

// AddMap adds a map to the query. Adding a map twice collapses to one entry.
func (t *Timespan) AddMap(name string) *Timespan {
	if t.maps == nil {
		t.maps = make(map[string]struct{})
	}
	t.maps[name] = struct{}{}
	return t
}

// RemoveMap removes a map from the query. Removing a non-member is a no-op.
func (t *Timespan) RemoveMap(name string) *Timespan {
	delete(t.maps, name)
	return t
}

// LowerTimeBound returns the lower bound of the time window, or nil if there
// is no lower bound.
func (t *Timespan) LowerTimeBound() *time.Time {
	return t.lower
}

// SetLowerTimeBound sets the lower bound of the time window.
func (t *Timespan) SetLowerTimeBound(tm time.Time) *Timespan {
	bound := tm
	t.lower = &bound
	return t
}

// RemoveLowerTimeBound clears the lower bound. Removing an absent bound is a
// no-op.
func (t *Timespan) RemoveLowerTimeBound() *Timespan {
	t.lower = nil
	return t
}

// UpperTimeBound returns the upper bound of the time window, or nil if there
// is no upper bound.
func (t *Timespan) UpperTimeBound() *time.Time {
	return t.upper
}

// SetUpperTimeBound sets the upper bound of the time window.
func (t *Timespan) SetUpperTimeBound(tm time.Time) *Timespan {
	bound := tm
	t.upper = &bound
	return t
}

// RemoveUpperTimeBound clears the upper bound. Removing an absent bound is a
// no-op.
func (t *Timespan) RemoveUpperTimeBound() *Timespan {
	t.upper = nil
	return t
}

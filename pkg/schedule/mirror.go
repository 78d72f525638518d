// ABOUTME: Read-only replica of the schedule database
// ABOUTME: Applies patches from Database.Changes and answers queries locally

package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrPatchBaseMismatch is returned by Mirror.Update when a delta patch's base
// version is not the mirror's current version. Patches must be applied in
// version order; the caller should pull a fresh patch after its current
// version, or a full snapshot.
var ErrPatchBaseMismatch = errors.New("patch base does not match mirror version")

// Mirror holds a replica of the schedule, kept current by applying patches
// produced by Database.Changes. A mirror answers queries without touching the
// database; the usual loop is to pull Changes(QueryAfter(m.LatestVersion()))
// periodically and Update with the result. Methods are safe for concurrent
// use.
type Mirror struct {
	mu     sync.RWMutex
	routes map[ParticipantID]map[RouteID]routeEntry
	latest Version
	oldest Version

	intersector Intersector
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithMirrorIntersector installs the geometric intersector used to evaluate
// Regions-mode queries against the replica.
func WithMirrorIntersector(ix Intersector) MirrorOption {
	return func(m *Mirror) { m.intersector = ix }
}

// NewMirror creates an empty mirror at version zero. Its first update should
// come from a full-snapshot patch.
func NewMirror(opts ...MirrorOption) *Mirror {
	m := &Mirror{
		routes:      make(map[ParticipantID]map[RouteID]routeEntry),
		intersector: mapTimeIntersector{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LatestVersion returns the schedule version the replica has caught up to.
func (m *Mirror) LatestVersion() Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// OldestVersion returns the oldest schedule version still represented in the
// replica; it advances when an applied patch carries a cull.
func (m *Mirror) OldestVersion() Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oldest
}

// Update applies one patch and returns the version the replica is now at. A
// full-snapshot patch (nil Base) discards the replica's state and rebuilds it;
// a delta patch must be based on the replica's current version, otherwise
// ErrPatchBaseMismatch is returned and the replica is left untouched. Within
// one participant, erasures apply before additions, and an addition whose
// route ID already exists overwrites it.
func (m *Mirror) Update(p *Patch) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Base == nil {
		m.routes = make(map[ParticipantID]map[RouteID]routeEntry, len(p.Participants))
	} else if *p.Base != m.latest {
		return m.latest, fmt.Errorf("%w: base %d, mirror at %d", ErrPatchBaseMismatch, *p.Base, m.latest)
	}

	for _, id := range p.Unregistered {
		delete(m.routes, id)
	}

	for _, pc := range p.Participants {
		routes := m.routes[pc.Participant]
		if routes == nil {
			routes = make(map[RouteID]routeEntry, len(pc.Additions))
			m.routes[pc.Participant] = routes
		}
		for _, rid := range pc.Erasures {
			delete(routes, rid)
		}
		for _, add := range pc.Additions {
			routes[add.ID] = routeEntry{route: add.Route, stamp: add.Version}
		}
		if len(routes) == 0 {
			delete(m.routes, pc.Participant)
		}
	}

	if p.Cull != nil {
		m.cullLocked(p.Cull.Time)
		m.oldest = p.Cull.Version
	}

	m.latest = p.LatestVersion
	return m.latest, nil
}

func (m *Mirror) cullLocked(t time.Time) {
	for id, routes := range m.routes {
		for rid, entry := range routes {
			if entry.route.End.Before(t) {
				delete(routes, rid)
			}
		}
		if len(routes) == 0 {
			delete(m.routes, id)
		}
	}
}

// ParticipantIDs returns the identifiers of participants with routes in the
// replica, sorted.
func (m *Mirror) ParticipantIDs() []ParticipantID {
	m.mu.RLock()
	out := make([]ParticipantID, 0, len(m.routes))
	for id := range m.routes {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Query evaluates a query against the replica and returns the selected routes
// ordered by participant and route ID, same as Database.Query.
func (m *Mirror) Query(q *Query) []ViewElement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ParticipantID, 0, len(m.routes))
	for id := range m.routes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []ViewElement
	for _, id := range ids {
		if !matchParticipant(q.Participants(), id) {
			continue
		}
		routes := m.routes[id]
		rids := make([]RouteID, 0, len(routes))
		for rid := range routes {
			rids = append(rids, rid)
		}
		sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
		for _, rid := range rids {
			re := routes[rid]
			if !matchVersion(q.Versions(), re.stamp) {
				continue
			}
			if !matchSpacetime(m.intersector, q.Spacetime(), re.route) {
				continue
			}
			out = append(out, ViewElement{
				Participant: id,
				RouteID:     rid,
				Route:       re.route,
				Version:     re.stamp,
			})
		}
	}
	return out
}

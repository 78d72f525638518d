// ABOUTME: Patches describing schedule changes between two versions
// ABOUTME: Database.Changes produces them for replicas to apply

package schedule

import (
	"sort"
	"time"
)

// PatchAddition is one route to add to (or overwrite in) a replica, carrying
// the schedule version that introduced or last modified it.
type PatchAddition struct {
	ID      RouteID `json:"id"`
	Route   Route   `json:"route"`
	Version Version `json:"version"`
}

// PatchParticipant collects the route-level changes for one participant.
// Erasures apply before additions; an addition whose ID is already present
// overwrites it, which is how delays and replacements travel.
type PatchParticipant struct {
	Participant ParticipantID   `json:"participant"`
	Erasures    []RouteID       `json:"erasures,omitempty"`
	Additions   []PatchAddition `json:"additions,omitempty"`
}

// PatchCull marks that the schedule dropped everything finishing before Time
// at Version.
type PatchCull struct {
	Time    time.Time `json:"time"`
	Version Version   `json:"version"`
}

// Patch carries everything a replica needs to move its copy of the schedule
// from one version to a later one. Base is the version the delta starts
// after; a nil Base means the patch is a full snapshot and the replica must
// discard its state before applying. Patches must be applied in version
// order.
type Patch struct {
	Base          *Version           `json:"base,omitempty"`
	Participants  []PatchParticipant `json:"participants,omitempty"`
	Unregistered  []ParticipantID    `json:"unregistered,omitempty"`
	Cull          *PatchCull         `json:"cull,omitempty"`
	LatestVersion Version            `json:"latest_version"`
}

// Size reports the number of route-level changes and unregistrations carried
// by this patch. A zero-size patch still carries LatestVersion.
func (p *Patch) Size() int {
	n := len(p.Unregistered)
	for _, pc := range p.Participants {
		n += len(pc.Erasures) + len(pc.Additions)
	}
	return n
}

// Changes produces the patch that brings a replica holding the state
// selected by q up to the database's latest version. The query's Versions
// filter gives the replica's position: After(v) yields the delta since v,
// while All (or a version older than what the database still remembers,
// after a cull) yields a full snapshot. The Spacetime and Participants
// filters narrow which routes the replica cares about, same as Query.
func (db *Database) Changes(q *Query) *Patch {
	var base *Version
	if after := q.Versions().After(); after != nil {
		v := after.Version()
		base = &v
	}
	if base != nil && *base < db.OldestVersion() {
		// The records needed for a delta were culled; fall back to a
		// snapshot.
		base = nil
	}

	db.mu.RLock()
	type entry struct {
		id ParticipantID
		st *participantState
	}
	states := make([]entry, 0, len(db.states))
	for id, st := range db.states {
		states = append(states, entry{id: id, st: st})
	}
	var unregistered []ParticipantID
	if base != nil {
		for id, v := range db.departed {
			if v > *base {
				unregistered = append(unregistered, id)
			}
		}
	}
	var cull *PatchCull
	if db.lastCull != nil && (base == nil || db.lastCull.Version > *base) {
		c := *db.lastCull
		cull = &c
	}
	db.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].id < states[j].id })
	sort.Slice(unregistered, func(i, j int) bool { return unregistered[i] < unregistered[j] })

	patch := &Patch{
		Base:          base,
		Unregistered:  unregistered,
		Cull:          cull,
		LatestVersion: db.LatestVersion(),
	}
	for _, e := range states {
		if !matchParticipant(q.Participants(), e.id) {
			continue
		}
		pc := PatchParticipant{Participant: e.id}

		e.st.mu.Lock()
		if base != nil {
			for _, er := range e.st.erased {
				if er.stamp > *base {
					pc.Erasures = append(pc.Erasures, er.id)
				}
			}
		}
		rids := make([]RouteID, 0, len(e.st.routes))
		for rid := range e.st.routes {
			rids = append(rids, rid)
		}
		sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
		for _, rid := range rids {
			re := e.st.routes[rid]
			if base != nil && re.stamp <= *base {
				continue
			}
			if !matchSpacetime(db.intersector, q.Spacetime(), re.route) {
				continue
			}
			pc.Additions = append(pc.Additions, PatchAddition{
				ID:      rid,
				Route:   re.route,
				Version: re.stamp,
			})
		}
		e.st.mu.Unlock()

		if len(pc.Erasures) > 0 || len(pc.Additions) > 0 {
			sort.Slice(pc.Erasures, func(i, j int) bool { return pc.Erasures[i] < pc.Erasures[j] })
			patch.Participants = append(patch.Participants, pc)
		}
	}
	return patch
}

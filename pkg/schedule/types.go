// ABOUTME: Core identifier and value types for the traffic schedule
// ABOUTME: Versions, participants, regions and itinerary routes

package schedule

import "time"

// Version is the schedule-global monotonic counter. Every change that is
// applied to the database bumps it by one.
type Version uint64

// ItineraryVersion is a per-participant monotonic sequence number. Each
// submitted itinerary change carries exactly one, and a participant's
// itinerary is only consistent once its versions have arrived with no
// permanent gaps.
type ItineraryVersion uint64

// ParticipantID identifies one registered participant of the schedule.
type ParticipantID uint64

// RouteID identifies one route within a participant's itinerary. IDs are
// assigned deterministically: a Put numbers its routes 0..n-1 and every
// subsequent Post takes the next number, so both sides of an unreliable
// transport agree on them without negotiation.
type RouteID uint64

// Space is an opaque spatial shape. Geometry is owned by an external
// collaborator; the schedule only carries shapes through to the Intersector
// that evaluates region queries.
type Space interface{}

// Region describes a spatial query region: a map name, an opaque shape, and
// optional time bounds. A nil bound means no constraint on that side.
type Region struct {
	Map            string
	Shape          Space
	LowerTimeBound *time.Time
	UpperTimeBound *time.Time
}

// Route is one scheduled trajectory segment. Motion interpolation is
// external; the database only needs the map and the active time window.
type Route struct {
	Map   string    `json:"map"`
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Itinerary is the full set of scheduled routes owned by one participant.
type Itinerary []Route

// Responsiveness describes whether a participant can adjust its schedule on
// request.
type Responsiveness uint16

const (
	ResponsivenessUnresponsive Responsiveness = iota
	ResponsivenessResponsive
)

// ParticipantDescription is the registration-time information about a
// participant. Footprint and Vicinity are opaque shapes owned by the
// external geometry collaborator.
type ParticipantDescription struct {
	Name           string
	Owner          string
	Responsiveness Responsiveness
	Footprint      Space
	Vicinity       Space
}

// Registration is the result of registering a participant.
type Registration struct {
	ID      ParticipantID
	Version Version
}

// Registry is the participant bookkeeping surface of the schedule database.
type Registry interface {
	RegisterParticipant(desc ParticipantDescription) (Registration, error)
	UnregisterParticipant(id ParticipantID) (Version, error)
}

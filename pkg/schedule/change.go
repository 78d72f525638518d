// ABOUTME: Change descriptions for itinerary modifications
// ABOUTME: Put, Post, Delay, Erase and EraseRoutes with JSON shapes for the wire

package schedule

import (
	"fmt"
	"time"
)

// ChangeMode enumerates the kinds of itinerary change a participant can
// submit.
type ChangeMode uint16

const (
	// ChangeInvalid is the zero value. A change in this mode indicates a bug.
	ChangeInvalid ChangeMode = iota

	// ChangePut replaces a participant's whole itinerary.
	ChangePut

	// ChangePost adds a route to a participant's existing itinerary.
	ChangePost

	// ChangeDelay pushes back the itinerary from a point in time.
	ChangeDelay

	// ChangeErase erases a participant's whole itinerary.
	ChangeErase

	// ChangeEraseRoutes erases specific routes from an itinerary.
	ChangeEraseRoutes
)

// String returns a human-readable mode name.
func (m ChangeMode) String() string {
	switch m {
	case ChangePut:
		return "put"
	case ChangePost:
		return "post"
	case ChangeDelay:
		return "delay"
	case ChangeErase:
		return "erase"
	case ChangeEraseRoutes:
		return "erase_routes"
	}
	return "invalid"
}

// Change describes one modification to a participant's itinerary. Only the
// fields relevant to the mode are populated. Changes are plain values so
// they can be held in a participant's retransmission history and carried
// over a wire transport as JSON.
type Change struct {
	Mode        ChangeMode    `json:"mode"`
	Participant ParticipantID `json:"participant"`

	// Put
	Itinerary Itinerary `json:"itinerary,omitempty"`

	// Post
	Route *Route `json:"route,omitempty"`

	// Delay
	From  *time.Time    `json:"from,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`

	// EraseRoutes
	RouteIDs []RouteID `json:"route_ids,omitempty"`
}

// MakePut describes replacing the whole itinerary of a participant.
func MakePut(participant ParticipantID, itinerary Itinerary) Change {
	return Change{
		Mode:        ChangePut,
		Participant: participant,
		Itinerary:   append(Itinerary(nil), itinerary...),
	}
}

// MakePost describes adding one route to a participant's itinerary.
func MakePost(participant ParticipantID, route Route) Change {
	return Change{
		Mode:        ChangePost,
		Participant: participant,
		Route:       &route,
	}
}

// MakeDelay describes pushing back every route that is still active after
// the given time point by the given duration.
func MakeDelay(participant ParticipantID, from time.Time, delay time.Duration) Change {
	return Change{
		Mode:        ChangeDelay,
		Participant: participant,
		From:        &from,
		Delay:       delay,
	}
}

// MakeErase describes erasing a participant's whole itinerary.
func MakeErase(participant ParticipantID) Change {
	return Change{
		Mode:        ChangeErase,
		Participant: participant,
	}
}

// MakeEraseRoutes describes erasing specific routes from an itinerary.
func MakeEraseRoutes(participant ParticipantID, routes []RouteID) Change {
	return Change{
		Mode:        ChangeEraseRoutes,
		Participant: participant,
		RouteIDs:    append([]RouteID(nil), routes...),
	}
}

// Nullifying reports whether this change invalidates every change that came
// before it. The consistency tracker uses this to close gaps that no longer
// matter: once a fresh Put or a full Erase arrives, earlier missing versions
// cannot affect the resulting itinerary.
func (c Change) Nullifying() bool {
	return c.Mode == ChangePut || c.Mode == ChangeErase
}

// Validate checks that the populated fields match the mode.
func (c Change) Validate() error {
	switch c.Mode {
	case ChangePut, ChangeErase:
		return nil
	case ChangePost:
		if c.Route == nil {
			return fmt.Errorf("post change missing route")
		}
		return nil
	case ChangeDelay:
		if c.From == nil {
			return fmt.Errorf("delay change missing origin time")
		}
		return nil
	case ChangeEraseRoutes:
		if len(c.RouteIDs) == 0 {
			return fmt.Errorf("erase_routes change lists no routes")
		}
		return nil
	}
	return fmt.Errorf("invalid change mode %d", c.Mode)
}

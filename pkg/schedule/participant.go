// ABOUTME: Client-side participant handle
// ABOUTME: Assigns itinerary versions, keeps retransmission history, owns the requester

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrParticipantClosed is returned by change submissions on a handle whose
// registration has ended.
var ErrParticipantClosed = errors.New("participant is closed")

// Writer is the submission path into the schedule database. Locally this is
// the Database itself; across a network it is a transport writer that
// publishes the change for the database side to consume.
type Writer interface {
	Submit(ctx context.Context, change Change, version ItineraryVersion) error
}

// Participant is the client-side handle for one registered participant. It
// stamps every change with the next itinerary version, keeps a history of
// changes since the last nullifying one so they can be retransmitted, and
// ties the lifecycle of its RectificationRequester to the registration.
type Participant struct {
	mu        sync.Mutex
	id        ParticipantID
	desc      ParticipantDescription
	registry  Registry
	writer    Writer
	next      ItineraryVersion
	history   map[ItineraryVersion]Change
	nextRoute RouteID
	requester RectificationRequester
	closed    bool
}

// MakeParticipant registers a participant and returns its handle. The
// factory, if non-nil, is invoked exactly once with the participant's
// Rectifier; the requester it produces is closed when the handle is closed.
func MakeParticipant(
	desc ParticipantDescription,
	registry Registry,
	writer Writer,
	factory RectificationRequesterFactory,
) (*Participant, error) {
	reg, err := registry.RegisterParticipant(desc)
	if err != nil {
		return nil, fmt.Errorf("register participant %q: %w", desc.Name, err)
	}

	p := &Participant{
		id:       reg.ID,
		desc:     desc,
		registry: registry,
		writer:   writer,
		history:  make(map[ItineraryVersion]Change),
	}

	if factory != nil {
		requester, err := factory.Make(newRectifier(p), reg.ID)
		if err != nil {
			registry.UnregisterParticipant(reg.ID)
			return nil, fmt.Errorf("make rectification requester: %w", err)
		}
		p.requester = requester
	}

	return p, nil
}

// ID returns the participant's registered identifier.
func (p *Participant) ID() ParticipantID {
	return p.id
}

// Description returns the registration-time description.
func (p *Participant) Description() ParticipantDescription {
	return p.desc
}

// LatestVersion returns the itinerary version of the most recent change, or
// false if no change has been submitted yet.
func (p *Participant) LatestVersion() (ItineraryVersion, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == 0 {
		return 0, false
	}
	return p.next - 1, true
}

// SetItinerary replaces the participant's whole itinerary.
func (p *Participant) SetItinerary(ctx context.Context, itinerary Itinerary) error {
	return p.submit(ctx, MakePut(p.id, itinerary), func() {
		p.nextRoute = RouteID(len(itinerary))
	})
}

// Extend adds one route to the itinerary and returns the route's ID.
func (p *Participant) Extend(ctx context.Context, route Route) (RouteID, error) {
	var id RouteID
	err := p.submit(ctx, MakePost(p.id, route), func() {
		id = p.nextRoute
		p.nextRoute++
	})
	return id, err
}

// Delay pushes back every route still active after from by the given
// duration.
func (p *Participant) Delay(ctx context.Context, from time.Time, delay time.Duration) error {
	return p.submit(ctx, MakeDelay(p.id, from, delay), nil)
}

// Clear erases the participant's whole itinerary.
func (p *Participant) Clear(ctx context.Context) error {
	return p.submit(ctx, MakeErase(p.id), nil)
}

// EraseRoutes removes the identified routes from the itinerary.
func (p *Participant) EraseRoutes(ctx context.Context, routes []RouteID) error {
	return p.submit(ctx, MakeEraseRoutes(p.id, routes), nil)
}

func (p *Participant) submit(ctx context.Context, c Change, record func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrParticipantClosed
	}

	v := p.next
	p.next++
	if c.Nullifying() {
		// Earlier changes can no longer affect the itinerary, so their
		// history is dead weight.
		for old := range p.history {
			if old < v {
				delete(p.history, old)
			}
		}
	}
	p.history[v] = c
	if record != nil {
		record()
	}

	return p.writer.Submit(ctx, c, v)
}

// retransmit re-sends the held changes in [from, to]. Versions that predate
// the last nullifying change have no history entry and are skipped; the
// database's tracker no longer needs them. Called via the Rectifier; the
// context comes from the requester's lifetime, so a retransmission stuck on
// a hung transport is abandoned when the requester closes.
func (p *Participant) retransmit(ctx context.Context, from, to ItineraryVersion) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	type record struct {
		version ItineraryVersion
		change  Change
	}
	resend := make([]record, 0, int(to-from+1))
	for v := from; v <= to; v++ {
		if c, ok := p.history[v]; ok {
			resend = append(resend, record{version: v, change: c})
		}
	}
	p.mu.Unlock()

	for _, r := range resend {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.writer.Submit(ctx, r.change, r.version); err != nil {
			return fmt.Errorf("retransmit version %d: %w", r.version, err)
		}
	}
	return nil
}

// Close ends the registration: the requester is closed first, releasing its
// transport resources and waiting out in-flight retransmit work, then the
// participant is unregistered. Further submissions and retransmit calls are
// no-ops. Close is idempotent.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	requester := p.requester
	p.requester = nil
	p.history = nil
	p.mu.Unlock()

	var errs []error
	if requester != nil {
		if err := requester.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close requester: %w", err))
		}
	}
	if _, err := p.registry.UnregisterParticipant(p.id); err != nil {
		errs = append(errs, fmt.Errorf("unregister participant %d: %w", p.id, err))
	}
	return errors.Join(errs...)
}

// ABOUTME: Rectification protocol contracts
// ABOUTME: Rectifier capability plus the transport-side requester interfaces

package schedule

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRange is returned by Rectifier.Retransmit when from > to. That
// is a programming error at the call site, not a protocol condition.
var ErrInvalidRange = errors.New("invalid retransmit range")

// retransmitter is implemented by the participant machinery. Keeping the
// method unexported makes Rectifier a capability: only this package can
// issue a usable instance.
type retransmitter interface {
	retransmit(ctx context.Context, from, to ItineraryVersion) error
}

// Rectifier asks a participant to retransmit a range of its past itinerary
// changes. It is issued by the participant machinery to exactly one
// RectificationRequester; consumers cannot construct a working instance.
//
// Retransmission is a request, not a guarantee: if the transport drops it,
// the gap persists and the request is simply re-issued on a later detection
// cycle. Re-requesting an already-filled range is a harmless no-op because
// change application is idempotent per version.
type Rectifier struct {
	target retransmitter
}

func newRectifier(target retransmitter) Rectifier {
	return Rectifier{target: target}
}

// Retransmit asks the participant to re-send every itinerary change in
// [from, to], inclusive on both ends, so from == to requests exactly one
// change. from must be <= to. The context bounds the re-send: cancelling it
// abandons whatever has not been written yet, and the gap is recovered on a
// later detection cycle. Calling Retransmit on a rectifier whose participant
// has deregistered is a no-op.
func (r Rectifier) Retransmit(ctx context.Context, from, to ItineraryVersion) error {
	if from > to {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}
	if r.target == nil {
		return nil
	}
	return r.target.retransmit(ctx, from, to)
}

// RectificationRequester is the transport adapter for the rectification
// protocol. A concrete implementation relays retransmit requests over its
// transport and feeds the participant's responses back into the database as
// ordinary change submissions; all of that behavior lives in the
// implementation, which calls Rectifier.Retransmit whenever it learns that a
// range must be resent.
//
// The only required operation is Close, which must release every transport
// resource and wait for or cancel in-flight retransmit work, on every exit
// path.
type RectificationRequester interface {
	Close() error
}

// RectificationRequesterFactory creates one requester per participant. Make
// is invoked exactly once per participant registration, binding the new
// requester to that participant's Rectifier; the requester is closed at
// deregistration.
type RectificationRequesterFactory interface {
	Make(rectifier Rectifier, participant ParticipantID) (RectificationRequester, error)
}

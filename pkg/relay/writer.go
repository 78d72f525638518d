// ABOUTME: Participant-side change writer over the bus
// ABOUTME: Implements schedule.Writer by publishing change envelopes

package relay

import (
	"context"

	"github.com/fleetmesh/scheddb/pkg/schedule"
)

// BusWriter publishes change submissions onto the bus instead of applying
// them locally. It implements schedule.Writer, so a Participant handle can
// be pointed at a remote database by constructing it with a BusWriter.
type BusWriter struct {
	bus *Bus
}

// NewBusWriter returns a writer publishing through bus.
func NewBusWriter(bus *Bus) *BusWriter {
	return &BusWriter{bus: bus}
}

// Submit publishes one change envelope. Delivery is best-effort: a dropped
// envelope shows up as a version gap on the database side and is recovered
// through the rectification protocol.
func (w *BusWriter) Submit(ctx context.Context, change schedule.Change, version schedule.ItineraryVersion) error {
	return w.bus.PublishChange(ctx, change, version)
}

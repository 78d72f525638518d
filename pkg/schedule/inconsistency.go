// ABOUTME: Per-participant itinerary version stream tracking
// ABOUTME: Detects gaps, buffers out-of-order changes, derives missing ranges

package schedule

import "sort"

// VersionRange is one contiguous run of itinerary versions that the database
// has not received. Both ends are inclusive.
type VersionRange struct {
	Lower ItineraryVersion
	Upper ItineraryVersion
}

// Inconsistency reports the missing version ranges for one participant.
type Inconsistency struct {
	Participant ParticipantID
	Ranges      []VersionRange
}

// gapRequest asks for retransmission of [From, To] inclusive. To is the
// version that revealed the gap; re-sending that boundary change is a
// harmless duplicate.
type gapRequest struct {
	From ItineraryVersion
	To   ItineraryVersion
}

// tracker maintains one participant's version stream. Versions are applied
// strictly in increasing order: a change that skips ahead is buffered and a
// gap request is produced; buffered changes drain once contiguity is
// restored. Versions at or below the applied high-water mark are idempotent
// no-ops.
//
// The caller serializes access; the tracker itself holds no lock.
type tracker struct {
	expected ItineraryVersion // next version to apply contiguously
	maxSeen  ItineraryVersion
	seenAny  bool
	buffer   map[ItineraryVersion]Change
}

func newTracker() tracker {
	return tracker{buffer: make(map[ItineraryVersion]Change)}
}

// offer presents one incoming change to the stream. It returns the changes
// that became applicable, in version order, and a gap request if this change
// revealed a new gap or extended an open one.
func (t *tracker) offer(v ItineraryVersion, c Change) (apply []Change, gap *gapRequest) {
	t.observe(v)

	if v < t.expected {
		// Already applied or nullified. Duplicate retransmissions land here.
		return nil, nil
	}

	if v == t.expected {
		apply = append(apply, c)
		t.expected = v + 1
		return t.drain(apply), nil
	}

	// v skips ahead of the contiguous stream.
	if c.Nullifying() {
		// Everything before this change no longer matters, so the gap below
		// it closes without retransmission.
		for buffered := range t.buffer {
			if buffered <= v {
				delete(t.buffer, buffered)
			}
		}
		apply = append(apply, c)
		t.expected = v + 1
		return t.drain(apply), nil
	}

	_, already := t.buffer[v]
	t.buffer[v] = c
	if !already && v == t.maxSeen {
		return nil, &gapRequest{From: t.expected, To: v}
	}
	return nil, nil
}

// drain applies buffered changes that have become contiguous.
func (t *tracker) drain(apply []Change) []Change {
	for {
		c, ok := t.buffer[t.expected]
		if !ok {
			return apply
		}
		delete(t.buffer, t.expected)
		apply = append(apply, c)
		t.expected++
	}
}

func (t *tracker) observe(v ItineraryVersion) {
	if !t.seenAny || v > t.maxSeen {
		t.maxSeen = v
		t.seenAny = true
	}
}

// consistent reports whether the applied high-water mark has caught up with
// the highest version ever observed.
func (t *tracker) consistent() bool {
	return len(t.buffer) == 0
}

// ranges derives the currently missing version runs between the contiguous
// high-water mark and the buffered changes.
func (t *tracker) ranges() []VersionRange {
	if t.consistent() {
		return nil
	}

	buffered := make([]ItineraryVersion, 0, len(t.buffer))
	for v := range t.buffer {
		buffered = append(buffered, v)
	}
	sort.Slice(buffered, func(i, j int) bool { return buffered[i] < buffered[j] })

	var out []VersionRange
	next := t.expected
	for _, v := range buffered {
		if v > next {
			out = append(out, VersionRange{Lower: next, Upper: v - 1})
		}
		next = v + 1
	}
	return out
}

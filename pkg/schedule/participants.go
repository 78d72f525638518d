// ABOUTME: Participant filter for schedule queries
// ABOUTME: Mode-variant over All, Include and Exclude identifier sets

package schedule

// ParticipantsMode determines which participants a query pays attention to.
type ParticipantsMode uint16

const (
	// ParticipantsAll considers every participant.
	ParticipantsAll ParticipantsMode = iota

	// ParticipantsInclude considers only the listed participants.
	ParticipantsInclude

	// ParticipantsExclude considers everyone except the listed participants.
	ParticipantsExclude
)

// String returns a human-readable mode name.
func (m ParticipantsMode) String() string {
	switch m {
	case ParticipantsAll:
		return "all"
	case ParticipantsInclude:
		return "include"
	case ParticipantsExclude:
		return "exclude"
	}
	return "invalid"
}

// Participants is the participant component of a Query. Non-default
// instances are built only through the factory constructors below; the zero
// value is in All mode. The accessor for an inactive mode returns nil.
type Participants struct {
	mode    ParticipantsMode
	include *Include
	exclude *Exclude
}

// Include holds the identifiers of the participants a query is limited to.
type Include struct {
	ids []ParticipantID
}

// IDs returns the included participant identifiers in insertion order.
func (i *Include) IDs() []ParticipantID {
	return append([]ParticipantID(nil), i.ids...)
}

// SetIDs replaces the included identifiers. Duplicates collapse, keeping the
// first occurrence's position.
func (i *Include) SetIDs(ids []ParticipantID) *Include {
	i.ids = dedupeIDs(ids)
	return i
}

// Exclude holds the identifiers of the participants a query leaves out.
type Exclude struct {
	ids []ParticipantID
}

// IDs returns the excluded participant identifiers in insertion order.
func (e *Exclude) IDs() []ParticipantID {
	return append([]ParticipantID(nil), e.ids...)
}

// SetIDs replaces the excluded identifiers. Duplicates collapse, keeping the
// first occurrence's position.
func (e *Exclude) SetIDs(ids []ParticipantID) *Exclude {
	e.ids = dedupeIDs(ids)
	return e
}

// NewParticipantsAll returns a filter that considers every participant.
func NewParticipantsAll() Participants {
	return Participants{mode: ParticipantsAll}
}

// NewParticipantsOnly returns a filter limited to the given participants.
// The list may contain duplicates; they collapse to a set.
func NewParticipantsOnly(ids ...ParticipantID) Participants {
	return Participants{
		mode:    ParticipantsInclude,
		include: &Include{ids: dedupeIDs(ids)},
	}
}

// NewParticipantsAllExcept returns a filter that considers every participant
// except the given ones. The list may contain duplicates; they collapse to a
// set.
func NewParticipantsAllExcept(ids ...ParticipantID) Participants {
	return Participants{
		mode:    ParticipantsExclude,
		exclude: &Exclude{ids: dedupeIDs(ids)},
	}
}

// Mode reports the currently active mode.
func (p *Participants) Mode() ParticipantsMode {
	return p.mode
}

// Include returns the active Include handle, or nil if this filter is not in
// Include mode.
func (p *Participants) Include() *Include {
	if p.mode != ParticipantsInclude {
		return nil
	}
	return p.include
}

// Exclude returns the active Exclude handle, or nil if this filter is not in
// Exclude mode.
func (p *Participants) Exclude() *Exclude {
	if p.mode != ParticipantsExclude {
		return nil
	}
	return p.exclude
}

func dedupeIDs(ids []ParticipantID) []ParticipantID {
	seen := make(map[ParticipantID]struct{}, len(ids))
	out := make([]ParticipantID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

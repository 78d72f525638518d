// ABOUTME: In-memory canonical schedule database
// ABOUTME: Participant registry, versioned change application, query evaluation

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownParticipant is returned for operations naming a participant that
// is not registered.
var ErrUnknownParticipant = errors.New("unknown participant")

// ViewElement is one route selected by a query: the participant that owns
// it, the route itself, and the schedule version that introduced or last
// modified it.
type ViewElement struct {
	Participant ParticipantID
	RouteID     RouteID
	Route       Route
	Version     Version
}

// Intersector decides whether a route intersects a query region. Geometric
// intersection is owned by an external collaborator; the default used when
// none is supplied matches on map name and time-window overlap only.
type Intersector interface {
	Intersects(region Region, route Route) bool
}

type mapTimeIntersector struct{}

func (mapTimeIntersector) Intersects(region Region, route Route) bool {
	if region.Map != route.Map {
		return false
	}
	return overlaps(region.LowerTimeBound, region.UpperTimeBound, route)
}

func overlaps(lower, upper *time.Time, route Route) bool {
	if lower != nil && route.End.Before(*lower) {
		return false
	}
	if upper != nil && route.Begin.After(*upper) {
		return false
	}
	return true
}

type routeEntry struct {
	route Route
	stamp Version
}

// erasure records a route leaving the itinerary so Changes can tell replicas
// to drop it. Records older than the last cull are trimmed; a replica that
// lags behind a cull must resynchronize from scratch.
type erasure struct {
	id    RouteID
	stamp Version
}

type participantState struct {
	mu      sync.Mutex
	desc    ParticipantDescription
	tracker tracker
	routes  map[RouteID]routeEntry
	erased  []erasure
	next    RouteID
}

type rectifierBinding struct {
	rect   Rectifier
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Database maintains the canonical store of scheduled itineraries. Change
// submissions from distinct participants proceed concurrently; submissions
// for one participant are serialized against that participant's version
// stream and gap-tracking state.
type Database struct {
	mu       sync.RWMutex
	states   map[ParticipantID]*participantState
	nextID   ParticipantID
	departed map[ParticipantID]Version
	lastCull *PatchCull
	version  atomic.Uint64
	oldest   atomic.Uint64

	rectMu     sync.Mutex
	rectifiers map[ParticipantID]*rectifierBinding

	intersector  Intersector
	observeQuery func(duration time.Duration, results int)
	log          zerolog.Logger
}

// Option configures a Database.
type Option func(*Database)

// WithIntersector installs the geometric intersector used to evaluate
// Regions-mode queries.
func WithIntersector(ix Intersector) Option {
	return func(db *Database) { db.intersector = ix }
}

// WithLogger installs a structured logger. Without it the database is
// silent.
func WithLogger(log zerolog.Logger) Option {
	return func(db *Database) { db.log = log }
}

// WithQueryObserver installs a callback invoked with the duration and result
// count of every evaluated query.
func WithQueryObserver(observe func(duration time.Duration, results int)) Option {
	return func(db *Database) { db.observeQuery = observe }
}

// NewDatabase creates an empty schedule database.
func NewDatabase(opts ...Option) *Database {
	db := &Database{
		states:      make(map[ParticipantID]*participantState),
		departed:    make(map[ParticipantID]Version),
		rectifiers:  make(map[ParticipantID]*rectifierBinding),
		intersector: mapTimeIntersector{},
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// RegisterParticipant adds a participant to the schedule and returns its
// identifier along with the new schedule version.
func (db *Database) RegisterParticipant(desc ParticipantDescription) (Registration, error) {
	db.mu.Lock()
	id := db.nextID
	db.nextID++
	db.states[id] = &participantState{
		desc:    desc,
		tracker: newTracker(),
		routes:  make(map[RouteID]routeEntry),
	}
	db.mu.Unlock()

	v := db.bump()
	db.log.Info().
		Uint64("participant", uint64(id)).
		Str("name", desc.Name).
		Uint64("version", uint64(v)).
		Msg("participant registered")
	return Registration{ID: id, Version: v}, nil
}

// UnregisterParticipant removes a participant and its itinerary from the
// schedule, invalidating its rectifier binding, and returns the new schedule
// version.
func (db *Database) UnregisterParticipant(id ParticipantID) (Version, error) {
	db.mu.Lock()
	if _, ok := db.states[id]; !ok {
		db.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	delete(db.states, id)
	v := db.bump()
	db.departed[id] = v
	db.mu.Unlock()

	db.unbindRectifier(id)

	db.log.Info().
		Uint64("participant", uint64(id)).
		Uint64("version", uint64(v)).
		Msg("participant unregistered")
	return v, nil
}

// ParticipantIDs returns the registered participant identifiers, sorted.
func (db *Database) ParticipantIDs() []ParticipantID {
	db.mu.RLock()
	out := make([]ParticipantID, 0, len(db.states))
	for id := range db.states {
		out = append(out, id)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetParticipant returns the description a participant registered with.
func (db *Database) GetParticipant(id ParticipantID) (ParticipantDescription, error) {
	db.mu.RLock()
	st, ok := db.states[id]
	db.mu.RUnlock()
	if !ok {
		return ParticipantDescription{}, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	return st.desc, nil
}

// GetItinerary returns a participant's current itinerary in route-ID order.
func (db *Database) GetItinerary(id ParticipantID) (Itinerary, error) {
	db.mu.RLock()
	st, ok := db.states[id]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]RouteID, 0, len(st.routes))
	for rid := range st.routes {
		ids = append(ids, rid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	itinerary := make(Itinerary, 0, len(ids))
	for _, rid := range ids {
		itinerary = append(itinerary, st.routes[rid].route)
	}
	return itinerary, nil
}

// LatestVersion returns the current schedule-global version.
func (db *Database) LatestVersion() Version {
	return Version(db.version.Load())
}

// OldestVersion returns the oldest schedule version still represented in the
// database; everything before it has been culled.
func (db *Database) OldestVersion() Version {
	return Version(db.oldest.Load())
}

func (db *Database) bump() Version {
	return Version(db.version.Add(1))
}

// Submit feeds one itinerary change into a participant's version stream.
// Contiguous changes apply immediately; a change that skips ahead is
// buffered, the missing range is recorded, and a retransmit request covering
// [expected, version] is issued once through the participant's bound
// rectifier. Changes at or below the applied high-water mark are idempotent
// no-ops. Submit implements Writer.
func (db *Database) Submit(ctx context.Context, change Change, version ItineraryVersion) error {
	if err := change.Validate(); err != nil {
		return err
	}
	db.mu.RLock()
	st, ok := db.states[change.Participant]
	db.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, change.Participant)
	}

	st.mu.Lock()
	apply, gap := st.tracker.offer(version, change)
	for _, c := range apply {
		db.applyLocked(st, c)
	}
	st.mu.Unlock()

	if gap != nil {
		db.log.Warn().
			Uint64("participant", uint64(change.Participant)).
			Uint64("from", uint64(gap.From)).
			Uint64("to", uint64(gap.To)).
			Msg("itinerary version gap detected")
		db.requestRectification(change.Participant, gap.From, gap.To)
	}
	return nil
}

// applyLocked applies one change to the participant's stored itinerary. The
// caller holds st.mu. Routes leaving the itinerary are recorded as erasures
// so Changes can replicate the removal; a route replaced under the same ID
// does not need one because patch additions overwrite by ID.
func (db *Database) applyLocked(st *participantState, c Change) {
	stamp := db.bump()
	switch c.Mode {
	case ChangePut:
		for rid := range st.routes {
			if rid >= RouteID(len(c.Itinerary)) {
				st.erased = append(st.erased, erasure{id: rid, stamp: stamp})
			}
		}
		st.routes = make(map[RouteID]routeEntry, len(c.Itinerary))
		for i, route := range c.Itinerary {
			st.routes[RouteID(i)] = routeEntry{route: route, stamp: stamp}
		}
		st.next = RouteID(len(c.Itinerary))

	case ChangePost:
		st.routes[st.next] = routeEntry{route: *c.Route, stamp: stamp}
		st.next++

	case ChangeDelay:
		for rid, entry := range st.routes {
			if !entry.route.End.After(*c.From) {
				continue
			}
			entry.route.End = entry.route.End.Add(c.Delay)
			if entry.route.Begin.After(*c.From) {
				entry.route.Begin = entry.route.Begin.Add(c.Delay)
			}
			entry.stamp = stamp
			st.routes[rid] = entry
		}

	case ChangeErase:
		for rid := range st.routes {
			st.erased = append(st.erased, erasure{id: rid, stamp: stamp})
		}
		st.routes = make(map[RouteID]routeEntry)

	case ChangeEraseRoutes:
		for _, rid := range c.RouteIDs {
			if _, ok := st.routes[rid]; ok {
				st.erased = append(st.erased, erasure{id: rid, stamp: stamp})
				delete(st.routes, rid)
			}
		}
	}
}

// Cull drops every route that finishes before the given time and returns the
// resulting schedule version. Culled data is gone: queries and patches after
// older versions will not see it again, and replicas that lag behind the
// cull must resynchronize with a full patch.
func (db *Database) Cull(t time.Time) Version {
	db.mu.RLock()
	states := make([]*participantState, 0, len(db.states))
	for _, st := range db.states {
		states = append(states, st)
	}
	db.mu.RUnlock()

	culled := false
	for _, st := range states {
		st.mu.Lock()
		for rid, entry := range st.routes {
			if entry.route.End.Before(t) {
				delete(st.routes, rid)
				culled = true
			}
		}
		st.mu.Unlock()
	}

	v := db.LatestVersion()
	if !culled {
		return v
	}

	v = db.bump()
	db.oldest.Store(uint64(v))

	// Delta patches now start at or after v, so every replication record
	// from before the cull is dead weight.
	db.mu.Lock()
	db.lastCull = &PatchCull{Time: t, Version: v}
	db.departed = make(map[ParticipantID]Version)
	db.mu.Unlock()
	for _, st := range states {
		st.mu.Lock()
		st.erased = nil
		st.mu.Unlock()
	}
	return v
}

// Query evaluates a query against the stored itineraries and returns the
// selected routes ordered by participant and route ID. The caller must not
// mutate q while Query runs.
func (db *Database) Query(q *Query) []ViewElement {
	start := time.Now()

	db.mu.RLock()
	type entry struct {
		id ParticipantID
		st *participantState
	}
	states := make([]entry, 0, len(db.states))
	for id, st := range db.states {
		states = append(states, entry{id: id, st: st})
	}
	db.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].id < states[j].id })

	var out []ViewElement
	for _, e := range states {
		if !matchParticipant(q.Participants(), e.id) {
			continue
		}
		e.st.mu.Lock()
		rids := make([]RouteID, 0, len(e.st.routes))
		for rid := range e.st.routes {
			rids = append(rids, rid)
		}
		sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
		for _, rid := range rids {
			re := e.st.routes[rid]
			if !matchVersion(q.Versions(), re.stamp) {
				continue
			}
			if !matchSpacetime(db.intersector, q.Spacetime(), re.route) {
				continue
			}
			out = append(out, ViewElement{
				Participant: e.id,
				RouteID:     rid,
				Route:       re.route,
				Version:     re.stamp,
			})
		}
		e.st.mu.Unlock()
	}

	if db.observeQuery != nil {
		db.observeQuery(time.Since(start), len(out))
	}
	return out
}

func matchParticipant(p *Participants, id ParticipantID) bool {
	switch p.Mode() {
	case ParticipantsInclude:
		for _, want := range p.Include().IDs() {
			if want == id {
				return true
			}
		}
		return false
	case ParticipantsExclude:
		for _, skip := range p.Exclude().IDs() {
			if skip == id {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func matchVersion(v *Versions, stamp Version) bool {
	if v.Mode() != VersionsAfter {
		return true
	}
	return stamp > v.After().Version()
}

func matchSpacetime(ix Intersector, s *Spacetime, route Route) bool {
	switch s.Mode() {
	case SpacetimeRegions:
		regions := s.Regions()
		for i := 0; i < regions.Size(); i++ {
			if ix.Intersects(*regions.At(i), route) {
				return true
			}
		}
		return false
	case SpacetimeTimespan:
		ts := s.Timespan()
		if !ts.HasMap(route.Map) {
			return false
		}
		return overlaps(ts.LowerTimeBound(), ts.UpperTimeBound(), route)
	default:
		return true
	}
}

// Inconsistencies snapshots the open version gaps per participant, sorted by
// participant ID. Participants whose streams are consistent are omitted.
func (db *Database) Inconsistencies() []Inconsistency {
	db.mu.RLock()
	type entry struct {
		id ParticipantID
		st *participantState
	}
	states := make([]entry, 0, len(db.states))
	for id, st := range db.states {
		states = append(states, entry{id: id, st: st})
	}
	db.mu.RUnlock()

	var out []Inconsistency
	for _, e := range states {
		e.st.mu.Lock()
		ranges := e.st.tracker.ranges()
		e.st.mu.Unlock()
		if len(ranges) > 0 {
			out = append(out, Inconsistency{Participant: e.id, Ranges: ranges})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

// BindRectifier attaches a rectifier to a participant so the database can
// request retransmission directly when it detects a gap in that
// participant's stream. At most one rectifier is bound per participant; a
// later bind replaces the earlier one.
func (db *Database) BindRectifier(id ParticipantID, r Rectifier) {
	ctx, cancel := context.WithCancel(context.Background())
	db.rectMu.Lock()
	db.rectifiers[id] = &rectifierBinding{rect: r, ctx: ctx, cancel: cancel}
	db.rectMu.Unlock()
}

// unbindRectifier removes a participant's binding, cancels its context and
// waits for any in-flight retransmit request on it to finish, so teardown
// never races an outstanding request and never waits on a hung one.
func (db *Database) unbindRectifier(id ParticipantID) {
	db.rectMu.Lock()
	b := db.rectifiers[id]
	delete(db.rectifiers, id)
	db.rectMu.Unlock()
	if b != nil {
		b.cancel()
		b.wg.Wait()
	}
}

// requestRectification dispatches one retransmit request on the
// participant's binding. The call runs on its own goroutine: a directly
// bound participant re-enters its own submission path while retransmitting,
// so calling it from inside Submit would deadlock against the submitter's
// lock. The binding's context bounds the request; unbindRectifier cancels
// it and waits the dispatch out.
func (db *Database) requestRectification(id ParticipantID, from, to ItineraryVersion) {
	db.rectMu.Lock()
	b := db.rectifiers[id]
	if b != nil {
		b.wg.Add(1)
	}
	db.rectMu.Unlock()
	if b == nil {
		return
	}

	go func() {
		defer b.wg.Done()
		if err := b.rect.Retransmit(b.ctx, from, to); err != nil {
			db.log.Error().
				Err(err).
				Uint64("participant", uint64(id)).
				Uint64("from", uint64(from)).
				Uint64("to", uint64(to)).
				Msg("retransmit request failed")
		}
	}()
}

// DirectRequesterFactory wires rectifiers straight into a local Database:
// the database calls Rectifier.Retransmit in-process the moment it detects a
// gap. It is the in-process stand-in for a networked transport.
type DirectRequesterFactory struct {
	db *Database
}

// NewDirectRequesterFactory returns a factory bound to db.
func NewDirectRequesterFactory(db *Database) *DirectRequesterFactory {
	return &DirectRequesterFactory{db: db}
}

// Make binds the rectifier to the database and returns a requester whose
// Close removes the binding, waiting out any in-flight request.
func (f *DirectRequesterFactory) Make(rectifier Rectifier, participant ParticipantID) (RectificationRequester, error) {
	f.db.BindRectifier(participant, rectifier)
	return &directRequester{db: f.db, id: participant}, nil
}

type directRequester struct {
	db   *Database
	id   ParticipantID
	once sync.Once
}

func (d *directRequester) Close() error {
	d.once.Do(func() { d.db.unbindRectifier(d.id) })
	return nil
}

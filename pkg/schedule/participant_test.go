// ABOUTME: Tests for the client-side participant handle
// ABOUTME: Verifies version stamping, retransmission history and lifecycle

package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type submission struct {
	change  Change
	version ItineraryVersion
}

// captureWriter records every submission instead of applying it.
type captureWriter struct {
	mu   sync.Mutex
	subs []submission
}

func (w *captureWriter) Submit(_ context.Context, c Change, v ItineraryVersion) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, submission{change: c, version: v})
	return nil
}

func (w *captureWriter) all() []submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]submission(nil), w.subs...)
}

// captureFactory hands the participant's rectifier to the test.
type captureFactory struct {
	rect      Rectifier
	requester *captureRequester
}

type captureRequester struct {
	closed int
}

func (r *captureRequester) Close() error {
	r.closed++
	return nil
}

func (f *captureFactory) Make(rect Rectifier, _ ParticipantID) (RectificationRequester, error) {
	f.rect = rect
	f.requester = &captureRequester{}
	return f.requester, nil
}

func setupTestParticipant(t *testing.T) (*Participant, *Database, *captureWriter, *captureFactory) {
	t.Helper()
	db := NewDatabase()
	writer := &captureWriter{}
	factory := &captureFactory{}
	p, err := MakeParticipant(ParticipantDescription{Name: "robot"}, db, writer, factory)
	if err != nil {
		t.Fatalf("Failed to make participant: %v", err)
	}
	return p, db, writer, factory
}

func TestParticipantVersionStamping(t *testing.T) {
	p, _, writer, _ := setupTestParticipant(t)
	ctx := context.Background()
	now := time.Now()

	if _, ok := p.LatestVersion(); ok {
		t.Error("Fresh participant should have no latest version")
	}

	if err := p.SetItinerary(ctx, Itinerary{testRoute("L1", now, 5), testRoute("L2", now, 5)}); err != nil {
		t.Fatalf("SetItinerary failed: %v", err)
	}
	rid, err := p.Extend(ctx, testRoute("L3", now, 5))
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if rid != 2 {
		t.Errorf("Put numbered routes 0..1, so Extend should return 2, got %d", rid)
	}
	rid, _ = p.Extend(ctx, testRoute("L4", now, 5))
	if rid != 3 {
		t.Errorf("Second Extend should return 3, got %d", rid)
	}
	if err := p.Delay(ctx, now, time.Minute); err != nil {
		t.Fatalf("Delay failed: %v", err)
	}

	subs := writer.all()
	if len(subs) != 4 {
		t.Fatalf("Expected 4 submissions, got %d", len(subs))
	}
	for i, s := range subs {
		if s.version != ItineraryVersion(i) {
			t.Errorf("Submission %d stamped %d", i, s.version)
		}
	}
	wantModes := []ChangeMode{ChangePut, ChangePost, ChangePost, ChangeDelay}
	for i, s := range subs {
		if s.change.Mode != wantModes[i] {
			t.Errorf("Submission %d: expected %v, got %v", i, wantModes[i], s.change.Mode)
		}
	}

	if v, ok := p.LatestVersion(); !ok || v != 3 {
		t.Errorf("Expected latest version 3, got %d (ok=%v)", v, ok)
	}
}

func TestParticipantRetransmit(t *testing.T) {
	p, _, writer, factory := setupTestParticipant(t)
	ctx := context.Background()
	now := time.Now()

	p.SetItinerary(ctx, Itinerary{testRoute("L1", now, 5)}) // v0
	p.Extend(ctx, testRoute("L2", now, 5))                  // v1
	p.Extend(ctx, testRoute("L3", now, 5))                  // v2

	if err := factory.rect.Retransmit(ctx, 1, 2); err != nil {
		t.Fatalf("Retransmit failed: %v", err)
	}

	subs := writer.all()
	if len(subs) != 5 {
		t.Fatalf("Expected 3 originals + 2 retransmissions, got %d", len(subs))
	}
	if subs[3].version != 1 || subs[4].version != 2 {
		t.Errorf("Retransmissions out of order: %v, %v", subs[3].version, subs[4].version)
	}
	if subs[3].change.Mode != ChangePost {
		t.Errorf("Retransmission changed the payload: %v", subs[3].change.Mode)
	}
}

func TestParticipantRetransmitSkipsNullifiedHistory(t *testing.T) {
	p, _, writer, factory := setupTestParticipant(t)
	ctx := context.Background()
	now := time.Now()

	p.Extend(ctx, testRoute("L1", now, 5))                  // v0
	p.Extend(ctx, testRoute("L2", now, 5))                  // v1
	p.SetItinerary(ctx, Itinerary{testRoute("L3", now, 5)}) // v2, nullifies 0..1
	p.Extend(ctx, testRoute("L4", now, 5))                  // v3

	if err := factory.rect.Retransmit(ctx, 0, 3); err != nil {
		t.Fatalf("Retransmit failed: %v", err)
	}

	subs := writer.all()
	// 4 originals, then only versions 2 and 3 survive in history.
	if len(subs) != 6 {
		t.Fatalf("Expected 6 submissions, got %d", len(subs))
	}
	if subs[4].version != 2 || subs[4].change.Mode != ChangePut {
		t.Errorf("Expected the Put at version 2 first, got v%d %v", subs[4].version, subs[4].change.Mode)
	}
	if subs[5].version != 3 {
		t.Errorf("Expected version 3 second, got %d", subs[5].version)
	}
}

func TestRetransmitStopsWhenContextCancelled(t *testing.T) {
	p, _, writer, factory := setupTestParticipant(t)
	ctx := context.Background()
	now := time.Now()

	p.Extend(ctx, testRoute("L1", now, 5)) // v0
	p.Extend(ctx, testRoute("L2", now, 5)) // v1

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := factory.rect.Retransmit(cancelled, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := len(writer.all()); got != 2 {
		t.Errorf("Cancelled retransmit must not re-send, got %d submissions", got)
	}
}

func TestRectifierInvalidRange(t *testing.T) {
	_, _, _, factory := setupTestParticipant(t)
	err := factory.rect.Retransmit(context.Background(), 5, 2)
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestRectifierZeroValueIsInert(t *testing.T) {
	var r Rectifier
	if err := r.Retransmit(context.Background(), 0, 5); err != nil {
		t.Errorf("Zero-value rectifier should be a no-op, got %v", err)
	}
}

func TestParticipantClose(t *testing.T) {
	p, db, _, factory := setupTestParticipant(t)
	ctx := context.Background()

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if factory.requester.closed != 1 {
		t.Errorf("Requester should be closed exactly once, got %d", factory.requester.closed)
	}
	if len(db.ParticipantIDs()) != 0 {
		t.Error("Close should unregister the participant")
	}

	if err := p.SetItinerary(ctx, Itinerary{}); !errors.Is(err, ErrParticipantClosed) {
		t.Errorf("Expected ErrParticipantClosed, got %v", err)
	}
	if err := factory.rect.Retransmit(ctx, 0, 0); err != nil {
		t.Errorf("Retransmit on a closed participant should be a no-op, got %v", err)
	}

	// Idempotent: the requester is not closed again.
	if err := p.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if factory.requester.closed != 1 {
		t.Errorf("Second Close re-closed the requester: %d", factory.requester.closed)
	}
}

type failingFactory struct{}

func (failingFactory) Make(Rectifier, ParticipantID) (RectificationRequester, error) {
	return nil, errors.New("transport down")
}

func TestMakeParticipantFactoryFailureUnregisters(t *testing.T) {
	db := NewDatabase()
	_, err := MakeParticipant(ParticipantDescription{Name: "robot"}, db, &captureWriter{}, failingFactory{})
	if err == nil {
		t.Fatal("Expected factory failure to propagate")
	}
	if len(db.ParticipantIDs()) != 0 {
		t.Error("Failed registration must be rolled back")
	}
}

// lossyWriter forwards submissions to the database but drops each version in
// drop exactly once, simulating an unreliable transport.
type lossyWriter struct {
	mu   sync.Mutex
	db   *Database
	drop map[ItineraryVersion]bool
}

func (w *lossyWriter) Submit(ctx context.Context, c Change, v ItineraryVersion) error {
	w.mu.Lock()
	if w.drop[v] {
		delete(w.drop, v)
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return w.db.Submit(ctx, c, v)
}

func TestLostChangeRecoveredThroughRectification(t *testing.T) {
	db := NewDatabase()
	writer := &lossyWriter{db: db, drop: map[ItineraryVersion]bool{1: true}}

	p, err := MakeParticipant(ParticipantDescription{Name: "robot"}, db, writer, NewDirectRequesterFactory(db))
	if err != nil {
		t.Fatalf("Failed to make participant: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	now := time.Now()
	p.SetItinerary(ctx, Itinerary{testRoute("L1", now, 5)}) // v0 delivered
	p.Extend(ctx, testRoute("L2", now, 5))                  // v1 dropped
	p.Extend(ctx, testRoute("L3", now, 5))                  // v2 reveals the gap

	// Gap dispatch and retransmission are asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		itinerary, err := db.GetItinerary(p.ID())
		if err != nil {
			t.Fatalf("Failed to get itinerary: %v", err)
		}
		if len(db.Inconsistencies()) == 0 && len(itinerary) == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Gap never recovered: inconsistencies=%+v", db.Inconsistencies())
}

// ABOUTME: Tests for the spacetime query filter
// ABOUTME: Verifies mode switching, region container semantics and timespan bounds

package schedule

import (
	"testing"
	"time"
)

func TestSpacetimeZeroValueIsAll(t *testing.T) {
	var s Spacetime
	if s.Mode() != SpacetimeAll {
		t.Errorf("Expected All mode, got %v", s.Mode())
	}
	if s.Regions() != nil {
		t.Error("Regions accessor should be nil in All mode")
	}
	if s.Timespan() != nil {
		t.Error("Timespan accessor should be nil in All mode")
	}
}

func TestSpacetimeModeSwitch(t *testing.T) {
	var s Spacetime

	regions := s.QueryRegions([]Region{{Map: "L1"}, {Map: "L2"}})
	if s.Mode() != SpacetimeRegions {
		t.Fatalf("Expected Regions mode, got %v", s.Mode())
	}
	if regions.Size() != 2 {
		t.Errorf("Expected 2 seeded regions, got %d", regions.Size())
	}

	// Switching to Timespan discards the regions.
	s.QueryTimespan([]string{"L1"}, nil, nil)
	if s.Mode() != SpacetimeTimespan {
		t.Fatalf("Expected Timespan mode, got %v", s.Mode())
	}
	if s.Regions() != nil {
		t.Error("Regions accessor should be nil after switching to Timespan")
	}

	// Switching back to Regions starts from scratch.
	regions = s.QueryRegions(nil)
	if s.Timespan() != nil {
		t.Error("Timespan accessor should be nil after switching to Regions")
	}
	if regions.Size() != 0 {
		t.Errorf("Expected fresh region container, got size %d", regions.Size())
	}

	s.QueryAll()
	if s.Mode() != SpacetimeAll {
		t.Errorf("Expected All mode, got %v", s.Mode())
	}
	if s.Regions() != nil || s.Timespan() != nil {
		t.Error("All mode should expose neither Regions nor Timespan")
	}
}

func TestRegionsContainer(t *testing.T) {
	var s Spacetime
	r := s.QueryRegions(nil)

	r.PushBack(Region{Map: "a"})
	r.PushBack(Region{Map: "b"})
	r.PushBack(Region{Map: "c"})
	r.PushBack(Region{Map: "d"})
	if r.Size() != 4 {
		t.Fatalf("Expected 4 regions, got %d", r.Size())
	}

	r.PopBack()
	if r.Size() != 3 {
		t.Fatalf("Expected 3 regions after PopBack, got %d", r.Size())
	}
	if r.At(2).Map != "c" {
		t.Errorf("Expected last region c, got %s", r.At(2).Map)
	}

	next := r.Erase(0)
	if next != 0 {
		t.Errorf("Erase should return the following index, got %d", next)
	}
	if r.Size() != 2 || r.At(0).Map != "b" {
		t.Errorf("Unexpected contents after Erase: %+v", r.Slice())
	}

	r.PushBack(Region{Map: "e"})
	r.PushBack(Region{Map: "f"})
	next = r.EraseRange(1, 3)
	if next != 1 {
		t.Errorf("EraseRange should return the following index, got %d", next)
	}
	got := r.Slice()
	if len(got) != 2 || got[0].Map != "b" || got[1].Map != "f" {
		t.Errorf("Unexpected contents after EraseRange: %+v", got)
	}

	// Popping an empty container is a no-op.
	r.EraseRange(0, r.Size())
	r.PopBack()
	if r.Size() != 0 {
		t.Errorf("Expected empty container, got size %d", r.Size())
	}
}

func TestTimespanMaps(t *testing.T) {
	var s Spacetime
	ts := s.QueryTimespan([]string{"b", "a", "b"}, nil, nil)

	maps := ts.Maps()
	if len(maps) != 2 || maps[0] != "a" || maps[1] != "b" {
		t.Errorf("Expected deduplicated sorted maps [a b], got %v", maps)
	}

	ts.AddMap("c").AddMap("c").RemoveMap("a").RemoveMap("missing")
	if !ts.HasMap("b") || !ts.HasMap("c") || ts.HasMap("a") {
		t.Errorf("Unexpected map membership: %v", ts.Maps())
	}
}

func TestTimespanBounds(t *testing.T) {
	lower := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	upper := lower.Add(time.Hour)

	var s Spacetime
	ts := s.QueryTimespan([]string{"L1"}, &lower, &upper)

	if got := ts.LowerTimeBound(); got == nil || !got.Equal(lower) {
		t.Errorf("Expected lower bound %v, got %v", lower, got)
	}
	if got := ts.UpperTimeBound(); got == nil || !got.Equal(upper) {
		t.Errorf("Expected upper bound %v, got %v", upper, got)
	}

	ts.RemoveLowerTimeBound()
	if ts.LowerTimeBound() != nil {
		t.Error("Expected lower bound removed")
	}
	ts.RemoveLowerTimeBound() // removing an absent bound is a no-op

	shifted := upper.Add(time.Hour)
	ts.SetUpperTimeBound(shifted)
	if got := ts.UpperTimeBound(); got == nil || !got.Equal(shifted) {
		t.Errorf("Expected upper bound %v, got %v", shifted, got)
	}
}

// ABOUTME: Version filter for schedule queries
// ABOUTME: Mode-variant over All and strictly-after constraints

package schedule

// VersionsMode determines how a query filters on the schedule version.
type VersionsMode uint16

const (
	// VersionsAll selects changes regardless of version.
	VersionsAll VersionsMode = iota

	// VersionsAfter selects only changes strictly newer than a version.
	VersionsAfter
)

// String returns a human-readable mode name.
func (m VersionsMode) String() string {
	switch m {
	case VersionsAll:
		return "all"
	case VersionsAfter:
		return "after"
	}
	return "invalid"
}

// Versions is the version component of a Query. Exactly one mode is active
// at a time; the accessor for an inactive mode returns nil. The zero value
// is in All mode.
type Versions struct {
	mode  VersionsMode
	after *After
}

// After holds the bound for the strictly-greater-than version filter.
type After struct {
	version Version
}

// Version returns the bound. Only changes introduced after this schedule
// version pass the filter.
func (a *After) Version() Version {
	return a.version
}

// SetVersion updates the bound in place without a mode switch.
func (a *After) SetVersion(v Version) *After {
	a.version = v
	return a
}

// Mode reports the currently active mode.
func (v *Versions) Mode() VersionsMode {
	return v.mode
}

// QueryAll switches to All mode, discarding any After state.
func (v *Versions) QueryAll() {
	v.mode = VersionsAll
	v.after = nil
}

// QueryAfter switches to After mode with the given bound and returns the
// active After handle.
func (v *Versions) QueryAfter(version Version) *After {
	v.mode = VersionsAfter
	v.after = &After{version: version}
	return v.after
}

// After returns the active After handle, or nil if this Versions filter is
// not in After mode.
func (v *Versions) After() *After {
	if v.mode != VersionsAfter {
		return nil
	}
	return v.after
}

package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClipActiveAt(t *testing.T) {
	c := &ClipInfo{ID: "a", Start: 5, Duration: 10, In: 0, Out: 10}

	assert.False(t, c.ActiveAt(4.999))
	assert.True(t, c.ActiveAt(5))
	assert.True(t, c.ActiveAt(14.999))
	assert.False(t, c.ActiveAt(15))
}

func TestClipSourceTimeForward(t *testing.T) {
	c := &ClipInfo{Start: 5, Duration: 10, In: 2, Out: 12}

	assert.InDelta(t, 2.0, c.SourceTime(5), 1e-9)
	assert.InDelta(t, 5.0, c.SourceTime(8), 1e-9)
	assert.InDelta(t, 11.999, c.SourceTime(14.999), 1e-9)
}

func TestClipSourceTimeReversed(t *testing.T) {
	c := &ClipInfo{Start: 5, Duration: 10, In: 2, Out: 12, Reversed: true}

	assert.InDelta(t, 12.0, c.SourceTime(5), 1e-9)
	assert.InDelta(t, 9.0, c.SourceTime(8), 1e-9)
	assert.InDelta(t, 2.0, c.SourceTime(15), 1e-9)
}

// TestClipNestedRemap verifies that clips inside a nested composition remap
// the master-timeline time through the parent before applying their own
// geometry.
func TestClipNestedRemap(t *testing.T) {
	// Parent composition placed at 10s on the master timeline with a 3s
	// in-point. The nested clip starts at 4s inside the composition.
	c := &ClipInfo{
		Start: 4, Duration: 6, In: 1, Out: 7,
		Nesting: &NestingInfo{ParentID: "comp", ParentStart: 10, ParentIn: 3},
	}

	// Master t=11 → composition-local 11-10+3 = 4 → clip starts exactly here.
	assert.True(t, c.ActiveAt(11))
	assert.InDelta(t, 1.0, c.SourceTime(11), 1e-9)

	// Master t=13 → local 6 → two seconds into the clip.
	assert.InDelta(t, 3.0, c.SourceTime(13), 1e-9)

	// Before the nested clip becomes active.
	assert.False(t, c.ActiveAt(10.5))
	// After it ends (local 10 ≥ 4+6).
	assert.False(t, c.ActiveAt(17))
}

func TestClipOverlapsRange(t *testing.T) {
	c := &ClipInfo{Start: 5, Duration: 10}

	assert.True(t, c.OverlapsRange(0, 6))
	assert.True(t, c.OverlapsRange(14, 20))
	assert.False(t, c.OverlapsRange(0, 5))
	assert.False(t, c.OverlapsRange(15, 20))

	nested := &ClipInfo{
		Start: 4, Duration: 6,
		Nesting: &NestingInfo{ParentID: "comp", ParentStart: 10, ParentIn: 3},
	}
	// Master-timeline placement is 10 + (4-3) = 11 .. 17.
	assert.True(t, nested.OverlapsRange(16, 30))
	assert.False(t, nested.OverlapsRange(0, 11))
}

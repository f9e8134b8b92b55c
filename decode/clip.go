package decode

// NestingInfo places a clip inside a nested composition. Timeline times are
// remapped through the parent clip before the clip's own geometry applies.
type NestingInfo struct {
	// ParentID is the id of the enclosing composition clip.
	ParentID string

	// ParentStart is the parent's start time on the master timeline.
	ParentStart float64

	// ParentIn is the parent's source in-point, in seconds.
	ParentIn float64
}

// ClipInfo is the immutable per-export description of one video clip: raw
// encoded bytes plus timeline geometry. It is owned by the mode selector and
// handed to the scheduler at initialize time; never mutated after creation.
type ClipInfo struct {
	// ID uniquely identifies the clip within one export.
	ID string

	// Name is the display name used in errors and logs.
	Name string

	// Data is the raw encoded container file.
	Data []byte

	// Start is the clip's start time on the timeline, in seconds.
	Start float64

	// Duration is the clip's duration on the timeline, in seconds.
	Duration float64

	// In and Out are the source in-point and out-point, in seconds.
	In  float64
	Out float64

	// Reversed plays the source backwards.
	Reversed bool

	// Nesting is set for clips inside a nested composition.
	Nesting *NestingInfo
}

// localTime maps a master-timeline time into the clip's own timeline,
// remapping through the parent composition when nested.
func (c *ClipInfo) localTime(t float64) float64 {
	if c.Nesting != nil {
		return (t - c.Nesting.ParentStart) + c.Nesting.ParentIn
	}
	return t
}

// ActiveAt reports whether the clip's active range covers the given
// master-timeline time.
func (c *ClipInfo) ActiveAt(t float64) bool {
	local := c.localTime(t)
	return local >= c.Start && local < c.Start+c.Duration
}

// SourceTime maps a master-timeline time to the source-file presentation
// time the compositor needs, honoring the reversed flag.
func (c *ClipInfo) SourceTime(t float64) float64 {
	local := c.localTime(t)
	offset := local - c.Start
	if c.Reversed {
		return c.Out - offset
	}
	return c.In + offset
}

// PlacementRange returns the clip's active interval on the master timeline,
// resolving nested placement through the parent composition.
func (c *ClipInfo) PlacementRange() (start, end float64) {
	start = c.Start
	if c.Nesting != nil {
		start = c.Nesting.ParentStart + (c.Start - c.Nesting.ParentIn)
	}
	return start, start + c.Duration
}

// OverlapsRange reports whether the clip is active anywhere in [start, end).
func (c *ClipInfo) OverlapsRange(start, end float64) bool {
	clipStart, clipEnd := c.PlacementRange()
	return clipStart < end && clipEnd > start
}

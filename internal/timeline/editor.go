package timeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/reelcut/reelcut-server/internal/clip"
)

// maxTrimFraction caps each trim end at 80% of the native duration.
const maxTrimFraction = 0.8

// Editor applies invariant-preserving mutations to a timeline. All
// operations are serialized through a mutex so concurrent edits on the
// same job apply one at a time, each seeing the latest committed state.
// Failed operations leave the timeline untouched.
type Editor struct {
	mu    sync.Mutex
	tl    *Timeline
	clips map[string]*clip.Clip
}

func NewEditor(tl *Timeline, clips []*clip.Clip) *Editor {
	byID := make(map[string]*clip.Clip, len(clips))
	for _, c := range clips {
		byID[c.ID] = c
	}
	return &Editor{tl: tl, clips: byID}
}

// Snapshot returns a copy of the current timeline state.
func (e *Editor) Snapshot() Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := *e.tl
	out.Entries = append([]Entry(nil), e.tl.Entries...)
	out.Overlays = append([]TextOverlay(nil), e.tl.Overlays...)
	return out
}

// Reorder moves the entry at fromIndex to toIndex and redistributes all
// start times evenly over the unchanged target duration.
func (e *Editor) Reorder(fromIndex, toIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.tl.Entries)
	if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
		return fmt.Errorf("%w: from=%d to=%d len=%d", ErrIndexOutOfRange, fromIndex, toIndex, n)
	}
	if fromIndex == toIndex {
		return nil
	}

	entries := e.tl.Entries
	moved := entries[fromIndex]
	entries = append(entries[:fromIndex], entries[fromIndex+1:]...)
	entries = append(entries[:toIndex], append([]Entry{moved}, entries[toIndex:]...)...)
	e.tl.Entries = entries

	e.redistribute()
	return nil
}

// Trim clamps the new trim values to 80% of the clip's native duration
// and applies them atomically. Other entries keep their start times:
// trimming changes the content window, not the slot packing.
func (e *Editor) Trim(clipID string, newTrimStart, newTrimEnd float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clips[clipID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	entry := e.tl.EntryByClip(clipID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}

	maxTrim := maxTrimFraction * c.NativeDuration
	start := clamp(newTrimStart, 0, maxTrim)
	end := clamp(newTrimEnd, 0, maxTrim)

	if c.NativeDuration-start-end <= 0 {
		return fmt.Errorf("%w: start=%.2f end=%.2f native=%.2f", ErrInvalidTrim, start, end, c.NativeDuration)
	}

	c.TrimStart = start
	c.TrimEnd = end
	entry.Duration = c.EffectiveDuration()
	return nil
}

// SetTransition updates the clip's outgoing transition. The returned
// flag reports whether anything changed, so callers can skip dirty
// tracking on a repeated identical call.
func (e *Editor) SetTransition(clipID string, t clip.Transition) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clips[clipID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	if !t.Valid() {
		return false, fmt.Errorf("invalid transition %q", t)
	}
	if c.Transition == t {
		return false, nil
	}
	c.Transition = t
	return true, nil
}

// redistribute reindexes orders and spaces entries evenly across the
// target duration.
func (e *Editor) redistribute() {
	n := len(e.tl.Entries)
	if n == 0 {
		return
	}
	slot := e.tl.TargetDuration / float64(n)
	for i := range e.tl.Entries {
		e.tl.Entries[i].Order = i
		e.tl.Entries[i].StartTime = float64(i) * slot
		e.tl.Entries[i].Duration = slot
	}
	e.tl.BeatAligned = false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package timeline

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/reelcut/reelcut-server/internal/clip"
)

func buildEditor(t *testing.T, durations ...float64) (*Editor, []*clip.Clip) {
	t.Helper()
	clips := testClips(durations...)
	tl, err := Build(clips, 30, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return NewEditor(tl, clips), clips
}

func assertTiling(t *testing.T, tl Timeline) {
	t.Helper()
	if len(tl.Entries) == 0 {
		return
	}
	if tl.Entries[0].StartTime != 0 {
		t.Errorf("first entry starts at %f, want 0", tl.Entries[0].StartTime)
	}
	for i := 1; i < len(tl.Entries); i++ {
		prev := tl.Entries[i-1]
		cur := tl.Entries[i]
		if cur.Order != prev.Order+1 {
			t.Errorf("orders not dense at %d: %d then %d", i, prev.Order, cur.Order)
		}
		if math.Abs(cur.StartTime-(prev.StartTime+prev.Duration)) > 1e-9 {
			t.Errorf("gap before entry %d: %f != %f+%f", i, cur.StartTime, prev.StartTime, prev.Duration)
		}
	}
}

func TestEditor_ReorderRoundTrip(t *testing.T) {
	ed, clips := buildEditor(t, 10, 10, 10)
	original := []string{clips[0].ID, clips[1].ID, clips[2].ID}

	if err := ed.Reorder(0, 2); err != nil {
		t.Fatalf("Reorder(0,2) error = %v", err)
	}
	if err := ed.Reorder(2, 0); err != nil {
		t.Fatalf("Reorder(2,0) error = %v", err)
	}

	tl := ed.Snapshot()
	for i, e := range tl.Entries {
		if e.ClipID != original[i] {
			t.Errorf("entry %d clip = %s, want %s", i, e.ClipID, original[i])
		}
	}
	assertTiling(t, tl)
}

func TestEditor_ReorderMoves(t *testing.T) {
	ed, clips := buildEditor(t, 10, 10, 10)

	if err := ed.Reorder(2, 0); err != nil {
		t.Fatalf("Reorder error = %v", err)
	}

	tl := ed.Snapshot()
	if tl.Entries[0].ClipID != clips[2].ID {
		t.Errorf("entry 0 = %s, want %s", tl.Entries[0].ClipID, clips[2].ID)
	}
	assertTiling(t, tl)
}

func TestEditor_ReorderOutOfRange(t *testing.T) {
	ed, _ := buildEditor(t, 10, 10)

	for _, pair := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		err := ed.Reorder(pair[0], pair[1])
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Reorder(%d,%d) error = %v, want ErrIndexOutOfRange", pair[0], pair[1], err)
		}
	}

	// Timeline unchanged after rejected operations.
	assertTiling(t, ed.Snapshot())
}

func TestEditor_ReorderSameIndexNoop(t *testing.T) {
	ed, clips := buildEditor(t, 10, 10)
	before := ed.Snapshot()

	if err := ed.Reorder(1, 1); err != nil {
		t.Fatalf("Reorder(1,1) error = %v", err)
	}

	after := ed.Snapshot()
	for i := range before.Entries {
		if before.Entries[i] != after.Entries[i] {
			t.Errorf("entry %d changed on no-op reorder", i)
		}
	}
	_ = clips
}

func TestEditor_TrimClampsToEightyPercent(t *testing.T) {
	ed, clips := buildEditor(t, 10)
	c := clips[0]

	// Requested trim equals the whole native duration; clamps to 8s.
	if err := ed.Trim(c.ID, 10, 0); err != nil {
		t.Fatalf("Trim error = %v", err)
	}
	if c.TrimStart != 8 {
		t.Errorf("TrimStart = %f, want clamped 8", c.TrimStart)
	}
	if c.EffectiveDuration() != 2 {
		t.Errorf("EffectiveDuration = %f, want 2", c.EffectiveDuration())
	}
}

func TestEditor_TrimRejectsZeroDuration(t *testing.T) {
	ed, clips := buildEditor(t, 10)
	c := clips[0]
	c.TrimStart = 1
	c.TrimEnd = 1

	// Both ends clamp to 8s; 8+8 ≥ 10 leaves nothing playable.
	err := ed.Trim(c.ID, 10, 10)
	if !errors.Is(err, ErrInvalidTrim) {
		t.Fatalf("Trim error = %v, want ErrInvalidTrim", err)
	}

	// Clip state unchanged after the rejected call.
	if c.TrimStart != 1 || c.TrimEnd != 1 {
		t.Errorf("trims = %f/%f, want unchanged 1/1", c.TrimStart, c.TrimEnd)
	}
}

func TestEditor_TrimUpdatesOnlyThatEntry(t *testing.T) {
	ed, clips := buildEditor(t, 10, 10, 10)
	before := ed.Snapshot()

	if err := ed.Trim(clips[1].ID, 2, 1); err != nil {
		t.Fatalf("Trim error = %v", err)
	}

	after := ed.Snapshot()
	if after.Entries[1].Duration != 7 {
		t.Errorf("trimmed entry duration = %f, want 7", after.Entries[1].Duration)
	}
	// Other entries keep their start times: trim is a content change.
	if after.Entries[0].StartTime != before.Entries[0].StartTime ||
		after.Entries[2].StartTime != before.Entries[2].StartTime {
		t.Error("neighbor start times changed on trim")
	}
}

func TestEditor_TrimUnknownClip(t *testing.T) {
	ed, _ := buildEditor(t, 10)
	if err := ed.Trim("nope", 1, 1); !errors.Is(err, ErrUnknownClip) {
		t.Errorf("error = %v, want ErrUnknownClip", err)
	}
}

func TestEditor_SetTransitionIdempotent(t *testing.T) {
	ed, clips := buildEditor(t, 10)
	c := clips[0]

	changed, err := ed.SetTransition(c.ID, clip.TransitionZoom)
	if err != nil {
		t.Fatalf("SetTransition error = %v", err)
	}
	if !changed {
		t.Error("first SetTransition reported no change")
	}

	changed, err = ed.SetTransition(c.ID, clip.TransitionZoom)
	if err != nil {
		t.Fatalf("second SetTransition error = %v", err)
	}
	if changed {
		t.Error("repeated SetTransition reported a change")
	}
	if c.Transition != clip.TransitionZoom {
		t.Errorf("transition = %s, want zoom", c.Transition)
	}
}

func TestEditor_SetTransitionInvalid(t *testing.T) {
	ed, clips := buildEditor(t, 10)
	if _, err := ed.SetTransition(clips[0].ID, clip.Transition("wipe")); err == nil {
		t.Error("invalid transition accepted")
	}
}

func TestEditor_ConcurrentEditsSerialized(t *testing.T) {
	ed, clips := buildEditor(t, 10, 10, 10, 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			ed.Reorder(i%4, (i+1)%4)
			ed.Trim(clips[i%4].ID, 0.5, 0.5)
			ed.SetTransition(clips[i%4].ID, clip.Transitions[i%len(clip.Transitions)])
		}()
	}
	wg.Wait()

	tl := ed.Snapshot()
	if len(tl.Entries) != 4 {
		t.Fatalf("entry count = %d, want 4", len(tl.Entries))
	}
	seen := map[string]bool{}
	for _, e := range tl.Entries {
		if seen[e.ClipID] {
			t.Errorf("duplicate entry for clip %s", e.ClipID)
		}
		seen[e.ClipID] = true
	}
}

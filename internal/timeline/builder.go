package timeline

import (
	"fmt"
	"math"
	"time"

	"github.com/reelcut/reelcut-server/internal/clip"
)

const (
	introDuration = 3.0
	outroDuration = 3.0

	overlayLead     = 0.5
	overlayDuration = 2.0
)

// BuildOptions tune timeline construction. Zero value gives even
// distribution with round-robin transitions and default overlay text.
type BuildOptions struct {
	// Beats enables beat-aligned placement when non-empty.
	Beats []float64

	// Transitions overrides the per-entry defaults when its length
	// matches the clip count (e.g. from a template).
	Transitions []clip.Transition

	IntroText string
	OutroText string
}

// Build places the given clips on a fresh timeline in input order,
// attaches the intro/outro overlays and the three-part structure, and
// assigns default transitions.
func Build(clips []*clip.Clip, targetDuration float64, opts BuildOptions) (*Timeline, error) {
	if targetDuration < introDuration+outroDuration {
		return nil, fmt.Errorf("%w: %.1fs < %.1fs", ErrInvalidDuration, targetDuration, introDuration+outroDuration)
	}

	tl := &Timeline{
		TargetDuration: targetDuration,
		BeatAligned:    len(opts.Beats) > 0,
		Structure: Structure{
			Intro: Span{Start: 0, End: introDuration},
			Body:  Span{Start: introDuration, End: targetDuration - outroDuration},
			Outro: Span{Start: targetDuration - outroDuration, End: targetDuration},
		},
	}

	if len(clips) > 0 {
		if tl.BeatAligned {
			tl.Entries = placeOnBeats(clips, targetDuration, opts.Beats)
		} else {
			tl.Entries = placeEvenly(clips, targetDuration)
		}
	}

	for i, c := range clips {
		if i < len(opts.Transitions) && opts.Transitions[i].Valid() {
			c.Transition = opts.Transitions[i]
		} else {
			c.Transition = clip.Transitions[i%len(clip.Transitions)]
		}
	}

	introText := opts.IntroText
	if introText == "" {
		introText = "My Story"
	}
	outroText := opts.OutroText
	if outroText == "" {
		outroText = fmt.Sprintf("%d", time.Now().Year())
	}

	tl.Overlays = []TextOverlay{
		{
			ID:        "intro-text",
			Text:      introText,
			Timestamp: overlayLead,
			Duration:  overlayDuration,
			Style:     OverlayStyle{FontSize: 64, Color: "#FFFFFF", FontFamily: "Arial", X: 0.5, Y: 0.3},
		},
		{
			ID:        "outro-text",
			Text:      outroText,
			Timestamp: tl.Structure.Outro.Start + overlayLead,
			Duration:  overlayDuration,
			Style:     OverlayStyle{FontSize: 48, Color: "#FFFFFF", FontFamily: "Arial", X: 0.5, Y: 0.5},
		},
	}

	return tl, nil
}

func placeEvenly(clips []*clip.Clip, targetDuration float64) []Entry {
	entries := make([]Entry, len(clips))
	slot := targetDuration / float64(len(clips))
	for i, c := range clips {
		entries[i] = Entry{
			ClipID:    c.ID,
			StartTime: float64(i) * slot,
			Duration:  slot,
			Order:     i,
		}
	}
	return entries
}

// placeOnBeats assigns each entry to a beat timestamp, capping the slot
// at the gap to the next beat and the clip's native duration. Entries
// past the last distinct beat pair fall back to an even slot.
func placeOnBeats(clips []*clip.Clip, targetDuration float64, beats []float64) []Entry {
	entries := make([]Entry, len(clips))
	evenSlot := targetDuration / float64(len(clips))
	last := len(beats) - 1

	for i, c := range clips {
		bi := min(i, last)
		ni := min(i+1, last)

		start := beats[bi]
		dur := beats[ni] - beats[bi]
		if dur <= 0 {
			// Not enough distinct beats left for this entry.
			start = float64(i) * evenSlot
			dur = evenSlot
		} else {
			dur = math.Min(dur, c.NativeDuration)
		}

		entries[i] = Entry{
			ClipID:    c.ID,
			StartTime: start,
			Duration:  dur,
			Order:     i,
		}
	}
	return entries
}

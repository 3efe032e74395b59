// Package timeline builds and edits the time-tiled arrangement of clips
// and text overlays that the renderer consumes.
package timeline

import "errors"

var (
	// ErrInvalidDuration is returned when the target duration cannot fit
	// the fixed intro and outro segments.
	ErrInvalidDuration = errors.New("target duration too short for intro and outro")

	// ErrInvalidTrim is returned when a trim would leave a clip with no
	// playable content.
	ErrInvalidTrim = errors.New("trim leaves no playable duration")

	// ErrIndexOutOfRange is returned for reorder indices outside the
	// entry list.
	ErrIndexOutOfRange = errors.New("entry index out of range")

	// ErrUnknownClip is returned when an edit references a clip that has
	// no entry on the timeline.
	ErrUnknownClip = errors.New("clip not on timeline")
)

// Entry is a placed clip instance. It references the clip by ID and does
// not own it. Order is dense and zero-based; StartTime is seconds from
// the timeline origin.
type Entry struct {
	ClipID    string  `json:"clip_id"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
	Order     int     `json:"order"`
}

// OverlayStyle positions text with normalized coordinates in [0,1]².
type OverlayStyle struct {
	FontSize   int     `json:"font_size"`
	Color      string  `json:"color"`
	FontFamily string  `json:"font_family"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

type TextOverlay struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Timestamp float64      `json:"timestamp"`
	Duration  float64      `json:"duration"`
	Style     OverlayStyle `json:"style"`
}

// Span is a half-open interval [Start, End) in seconds.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Structure is the fixed intro/body/outro split of the reel.
type Structure struct {
	Intro Span `json:"intro"`
	Body  Span `json:"body"`
	Outro Span `json:"outro"`
}

// Timeline is the full arrangement handed to the renderer.
type Timeline struct {
	TargetDuration float64       `json:"target_duration"`
	BeatAligned    bool          `json:"beat_aligned"`
	Entries        []Entry       `json:"entries"`
	Overlays       []TextOverlay `json:"overlays"`
	Structure      Structure     `json:"structure"`
}

// EntryByClip returns a pointer to the entry referencing clipID, or nil.
func (t *Timeline) EntryByClip(clipID string) *Entry {
	for i := range t.Entries {
		if t.Entries[i].ClipID == clipID {
			return &t.Entries[i]
		}
	}
	return nil
}
